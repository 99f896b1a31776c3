package clock

import (
	"sync"
	"time"
)

type Service interface {
	Now() time.Time
}

type TimeSetterFn func(time.Time)

type mockService struct {
	mu  sync.RWMutex
	now time.Time
}

func (m *mockService) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.now
}

func (m *mockService) set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = t
}

func NewMockServiceNow() (Service, TimeSetterFn) {
	return NewMockService(time.Now())
}

func NewMockService(now time.Time) (Service, TimeSetterFn) {
	service := &mockService{
		now: now,
	}
	return service, service.set
}

type clockService struct{}

func NewClockService() Service {
	return &clockService{}
}

func (c *clockService) Now() time.Time {
	return time.Now()
}
