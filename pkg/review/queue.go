// Package review orders stored matches for human review and commits verdicts.
package review

import (
	"context"
	"iter"
	"slices"
	"sort"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/CompassSecurity/docleek/pkg/store"
)

// Source is the part of the store a review session needs.
type Source interface {
	ListMatches(ctx context.Context, filter store.MatchFilter) ([]store.MatchRef, error)
	CommitVerdict(ctx context.Context, matchID string, verdict model.Verdict, actor string, ledger store.LedgerAppend) (store.MatchRef, error)
}

// QueueOptions selects what to review.
type QueueOptions struct {
	ScanID      string
	EntityTypes []model.EntityType
	// IncludeAll presents reviewed matches too. Only PENDING ones accept a verdict.
	IncludeAll bool
	// MaxConfidence drops matches above it. Zero disables the bound.
	MaxConfidence float64
	// Limit keeps the first matches of the ordered queue. Zero keeps all.
	Limit int
}

// Queue is a fixed snapshot of matches, least confident first.
type Queue struct {
	items []store.MatchRef
}

func LoadQueue(ctx context.Context, src Source, opts QueueOptions) (*Queue, error) {
	filter := store.MatchFilter{ScanID: opts.ScanID, EntityTypes: opts.EntityTypes}
	if !opts.IncludeAll {
		filter.Verdicts = []model.Verdict{model.VerdictPending}
	}
	refs, err := src.ListMatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	if opts.MaxConfidence > 0 {
		refs = slices.DeleteFunc(refs, func(r store.MatchRef) bool {
			return r.Match.FinalConfidence > opts.MaxConfidence
		})
	}
	q := NewQueue(refs)
	if opts.Limit > 0 && len(q.items) > opts.Limit {
		q.items = q.items[:opts.Limit]
	}
	return q, nil
}

func NewQueue(refs []store.MatchRef) *Queue {
	items := append([]store.MatchRef(nil), refs...)
	Sort(items)
	return &Queue{items: items}
}

// Sort orders by ascending confidence, ties by entity type, file path, span
// start and finally match id.
func Sort(refs []store.MatchRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Match.FinalConfidence != b.Match.FinalConfidence {
			return a.Match.FinalConfidence < b.Match.FinalConfidence
		}
		if a.Match.EntityType != b.Match.EntityType {
			return a.Match.EntityType < b.Match.EntityType
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Match.Span.Start != b.Match.Span.Start {
			return a.Match.Span.Start < b.Match.Span.Start
		}
		return a.Match.ID < b.Match.ID
	})
}

func (q *Queue) Len() int {
	return len(q.items)
}

// All yields the queue in order. Every call starts from the beginning.
func (q *Queue) All() iter.Seq[store.MatchRef] {
	return func(yield func(store.MatchRef) bool) {
		for _, ref := range q.items {
			if !yield(ref) {
				return
			}
		}
	}
}

func (q *Queue) at(i int) (store.MatchRef, bool) {
	if i < 0 || i >= len(q.items) {
		return store.MatchRef{}, false
	}
	return q.items[i], true
}
