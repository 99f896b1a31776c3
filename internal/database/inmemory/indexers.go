package inmemory

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDValueIndexer indexes objects by a uuid returned from Getter.
type UUIDValueIndexer struct {
	Getter func(obj any) uuid.UUID
}

func (u *UUIDValueIndexer) FromObject(obj any) (bool, []byte, error) {
	val := u.Getter(obj)
	if val == uuid.Nil {
		return false, nil, nil
	}

	return true, val[:], nil
}

func (u *UUIDValueIndexer) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("UUIDValueIndexer takes exactly one argument")
	}

	id, ok := args[0].(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("argument is not uuid.UUID")
	}

	return id[:], nil
}
