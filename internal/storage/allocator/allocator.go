// Package allocator keeps the ledger of bytes promised to in-flight uploads
// against a single global capacity ceiling.
package allocator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/utils/apiError"
)

var ErrInsufficientSpace = fmt.Errorf("capacity ceiling reached: %w", apiError.ErrApiInsufficientSpace)
var ErrAccounting = errors.New("storage accounting violation")

type Allocator interface {
	Reserve(n int64) (*Reservation, error)
	Stats() Stats
}

type Stats struct {
	CapacityCeiling int64
	ReservedTotal   int64
}

type allocator struct {
	mu            sync.Mutex
	ceiling       int64
	reservedTotal int64
}

func New(ceiling int64) Allocator {
	return &allocator{
		ceiling: ceiling,
	}
}

// Reserve succeeds iff reservedTotal + n <= ceiling.
func (a *allocator) Reserve(n int64) (*Reservation, error) {
	if n < 0 {
		return nil, fmt.Errorf("reserving %d bytes: %w", n, apiError.ErrApiBadRequest)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n > a.ceiling-a.reservedTotal {
		return nil, fmt.Errorf("reserving %d bytes with %d of %d reserved: %w", n, a.reservedTotal, a.ceiling, ErrInsufficientSpace)
	}

	a.reservedTotal += n

	return &Reservation{
		allocator: a,
		bytes:     n,
	}, nil
}

func (a *allocator) release(n int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n > a.reservedTotal {
		err := fmt.Errorf("releasing %d bytes with only %d reserved: %w", n, a.reservedTotal, ErrAccounting)
		a.reservedTotal = 0
		return err
	}

	a.reservedTotal -= n
	return nil
}

func (a *allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		CapacityCeiling: a.ceiling,
		ReservedTotal:   a.reservedTotal,
	}
}

// Reservation is a claim on ledger bytes that is returned exactly once.
type Reservation struct {
	allocator *allocator
	bytes     int64
	released  bool
	mu        sync.Mutex
}

func (r *Reservation) Bytes() int64 {
	return r.bytes
}

// Release returns the reserved bytes to the ledger. A second release is an
// accounting error and leaves the ledger untouched.
func (r *Reservation) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		err := fmt.Errorf("reservation of %d bytes released twice: %w", r.bytes, ErrAccounting)
		logging.Logger.Errorw("storage accounting violation", "error", err)
		return err
	}
	r.released = true
	r.mu.Unlock()

	err := r.allocator.release(r.bytes)
	if err != nil {
		logging.Logger.Errorw("storage accounting violation", "error", err)
		return err
	}

	return nil
}

func (r *Reservation) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.released
}
