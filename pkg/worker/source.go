package worker

import (
	"context"

	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

// Source yields the ordered items an instance attempts.
type Source interface {
	Items(ctx context.Context) ([]*types.WorkItem, error)
}

// PendingFunc lists the failure records a phase still has to consume.
// The phase-2 and phase-3 processors provide one.
type PendingFunc func() ([]*types.FailureRecord, error)

// RangeSource yields the input scan's slot range in slot order. Phase
// 1 instances run on it.
type RangeSource struct {
	store *store.Store
	start int
	end   int
}

// NewRangeSource creates a source over the half-open slot range
// [start, end).
func NewRangeSource(st *store.Store, start, end int) *RangeSource {
	return &RangeSource{store: st, start: start, end: end}
}

func (s *RangeSource) Items(ctx context.Context) ([]*types.WorkItem, error) {
	items, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	var out []*types.WorkItem
	for _, item := range items {
		if item.Slot >= s.start && item.Slot < s.end {
			out = append(out, item)
		}
	}
	return out, nil
}

// StreamSource yields the items named by a consumed failure stream in
// arrival order, restricted to a slot range. Slots come from the same
// global enumeration phase 1 partitions on, so a machine keeps
// covering the same population through every phase.
type StreamSource struct {
	store   *store.Store
	pending PendingFunc
	start   int
	end     int
}

// NewStreamSource creates a source over a phase's pending records.
func NewStreamSource(st *store.Store, pending PendingFunc, start, end int) *StreamSource {
	return &StreamSource{store: st, pending: pending, start: start, end: end}
}

func (s *StreamSource) Items(ctx context.Context) ([]*types.WorkItem, error) {
	records, err := s.pending()
	if err != nil {
		return nil, err
	}

	scan, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	bySlot := make(map[string]*types.WorkItem, len(scan))
	for _, item := range scan {
		bySlot[item.ItemID] = item
	}

	var out []*types.WorkItem
	for _, rec := range records {
		item, ok := bySlot[rec.ItemID]
		if !ok {
			// The input tree no longer has this item.
			continue
		}
		if item.Slot >= s.start && item.Slot < s.end {
			out = append(out, item)
		}
	}
	return out, nil
}
