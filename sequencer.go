// Package metadump aggregates per-item metadata from the vendor items
// platform into a single JSON array file, one record at a time. The pipeline
// is pull based: a consumer asks the sequencer for the next record, writes
// it, and only then asks again, so peak memory stays at one record no matter
// how many items a publisher owns.
package metadump

import (
	"context"
	"io"
	"log/slog"

	"github.com/miku/metadump/items"
)

// API is the part of the vendor client the sequencer needs.
type API interface {
	ListItems(ctx context.Context, token, publisherID string) ([]items.Item, error)
	GetItemMetadata(ctx context.Context, token, itemID string) (*items.ItemMetadata, error)
}

// SequencedRecord associates one metadata record with its position in the
// original item listing and the listing length. Total is fixed at sequence
// start; the number of yielded records may be smaller, since items deleted
// between listing and fetch are skipped.
type SequencedRecord struct {
	Metadata *items.ItemMetadata
	Index    int
	Total    int
}

// Sequence is a lazy, finite, single-pass iterator over a publisher's item
// metadata. Not safe for concurrent use; not restartable.
type Sequence struct {
	api         API
	token       string
	publisherID string

	// OnYield and OnSkip, when set, observe per-item outcomes as the
	// sequence advances, e.g. to feed a run catalog.
	OnYield func(rec *SequencedRecord)
	OnSkip  func(item items.Item, index int)

	list   []items.Item // nil until the first Next
	listed bool
	pos    int
}

// FetchAllMetadata returns the metadata sequence for a publisher. No request
// is made until the first call to Next.
func FetchAllMetadata(api API, token, publisherID string) *Sequence {
	return &Sequence{
		api:         api,
		token:       token,
		publisherID: publisherID,
	}
}

// Next returns the next record, in listing order. It returns io.EOF after
// the last item has been processed. Items whose metadata has disappeared are
// skipped with a warning; indices of skipped items are absent from the
// sequence, not renumbered. Any other fetch failure ends the sequence with
// that error.
func (s *Sequence) Next(ctx context.Context) (*SequencedRecord, error) {
	if !s.listed {
		list, err := s.api.ListItems(ctx, s.token, s.publisherID)
		if err != nil {
			return nil, err
		}
		s.list = list
		s.listed = true
	}
	for s.pos < len(s.list) {
		item := s.list[s.pos]
		i := s.pos
		s.pos++
		m, err := s.api.GetItemMetadata(ctx, s.token, item.ID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			slog.Warn("metadata gone, skipping", "item", item.ID)
			if s.OnSkip != nil {
				s.OnSkip(item, i)
			}
			continue
		}
		rec := &SequencedRecord{
			Metadata: m,
			Index:    i,
			Total:    len(s.list),
		}
		if s.OnYield != nil {
			s.OnYield(rec)
		}
		return rec, nil
	}
	return nil, io.EOF
}

// Total returns the item listing length, valid after the first Next.
func (s *Sequence) Total() int {
	return len(s.list)
}
