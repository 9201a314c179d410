package loader

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/janekolszak/warp/pkg/interaction"
)

// MemorySource is an in-memory Source. Cursors are edge offsets within the
// filtered result. Failures can be injected to exercise retries.
type MemorySource struct {
	mu      sync.Mutex
	records []*interaction.Record
	tip     uint64
	fail    int
	failErr error
	calls   int
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Add appends records and raises the tip to the highest block seen.
func (s *MemorySource) Add(records ...*interaction.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records = append(s.records, r.Clone())
		if r.Block.Height > s.tip {
			s.tip = r.Block.Height
		}
	}
	slices.SortStableFunc(s.records, func(a, b *interaction.Record) int {
		switch {
		case a.Block.Height < b.Block.Height:
			return -1
		case a.Block.Height > b.Block.Height:
			return 1
		}
		return 0
	})
}

// SetTip overrides the reported tip height.
func (s *MemorySource) SetTip(height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = height
}

// FailNext makes the next n calls fail with err.
func (s *MemorySource) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = n
	s.failErr = err
}

// Calls returns the number of Interactions and TipHeight calls served.
func (s *MemorySource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *MemorySource) injected() error {
	s.calls++
	if s.fail > 0 {
		s.fail--
		return s.failErr
	}
	return nil
}

// Interactions implements Source.
func (s *MemorySource) Interactions(ctx context.Context, q Query) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(); err != nil {
		return nil, err
	}

	offset := 0
	if q.After != "" {
		n, err := strconv.Atoi(q.After)
		if err != nil || n < 0 {
			return nil, errors.New("invalid cursor")
		}
		offset = n
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var matched []*interaction.Record
	for _, r := range s.records {
		if r.Block.Height < q.MinHeight {
			continue
		}
		if q.MaxHeight != 0 && r.Block.Height > q.MaxHeight {
			continue
		}
		if !slices.Contains(r.TagValues(q.TagName), q.TagValue) {
			continue
		}
		matched = append(matched, r)
	}

	page := &Page{}
	for i := offset; i < len(matched) && len(page.Edges) < pageSize; i++ {
		page.Edges = append(page.Edges, Edge{
			Node:   matched[i].Clone(),
			Cursor: strconv.Itoa(i + 1),
		})
	}
	page.HasNextPage = offset+len(page.Edges) < len(matched)
	return page, nil
}

// TipHeight implements Source.
func (s *MemorySource) TipHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(); err != nil {
		return 0, err
	}
	return s.tip, nil
}

var _ Source = (*MemorySource)(nil)
