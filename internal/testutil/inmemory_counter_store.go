package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
)

var _ invoice.CounterRepository = (*InMemoryCounterStore)(nil)

// InMemoryCounterStore implements invoice.CounterRepository with the same
// create-at-start-then-increment semantics as the postgres upsert.
type InMemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*invoice.SeriesCounter
	err      error
	calls    int
}

// NewInMemoryCounterStore creates a new in-memory counter store
func NewInMemoryCounterStore() *InMemoryCounterStore {
	return &InMemoryCounterStore{
		counters: make(map[string]*invoice.SeriesCounter),
	}
}

// SetError makes every following call fail with err. Pass nil to recover.
func (s *InMemoryCounterStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the number of Increment calls made so far
func (s *InMemoryCounterStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *InMemoryCounterStore) Increment(ctx context.Context, series string, start int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return 0, s.err
	}

	counter, ok := s.counters[series]
	if !ok {
		counter = &invoice.SeriesCounter{Series: series, Value: start, Start: start}
		s.counters[series] = counter
	}
	counter.Value++
	counter.UpdatedAt = time.Now().UTC()
	return counter.Value, nil
}

func (s *InMemoryCounterStore) AdvanceTo(ctx context.Context, series string, start, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	counter, ok := s.counters[series]
	if !ok {
		counter = &invoice.SeriesCounter{Series: series, Value: start, Start: start}
		s.counters[series] = counter
	}
	if value > counter.Value {
		counter.Value = value
		counter.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryCounterStore) Get(ctx context.Context, series string) (*invoice.SeriesCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	counter, ok := s.counters[series]
	if !ok {
		return nil, ierr.NewErrorf("series %s not found", series).Mark(ierr.ErrNotFound)
	}
	c := *counter
	return &c, nil
}

func (s *InMemoryCounterStore) List(ctx context.Context) ([]*invoice.SeriesCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	counters := make([]*invoice.SeriesCounter, 0, len(s.counters))
	for _, counter := range s.counters {
		c := *counter
		counters = append(counters, &c)
	}
	sort.Slice(counters, func(i, j int) bool {
		return counters[i].Series < counters[j].Series
	})
	return counters, nil
}

// Clear removes every counter and resets the injected error
func (s *InMemoryCounterStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*invoice.SeriesCounter)
	s.err = nil
	s.calls = 0
}
