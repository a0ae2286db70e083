package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/CompassSecurity/docleek/pkg/store"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StatePresenting State = iota
	StateAwaitingVerdict
	StateCommitting
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePresenting:
		return "presenting"
	case StateAwaitingVerdict:
		return "awaiting_verdict"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Ledger receives one record per committed verdict. The returned undo must
// remove it again.
type Ledger interface {
	Append(rec model.ReviewFeedbackRecord) (func() error, error)
}

type Options struct {
	Actor string
	Now   func() time.Time
}

// Tally counts what a session did.
type Tally struct {
	TP      int `json:"tp"`
	FP      int `json:"fp"`
	Skipped int `json:"skipped"`
	Passed  int `json:"passed"`
}

func (t *Tally) add(v model.Verdict) {
	switch v {
	case model.VerdictTP:
		t.TP++
	case model.VerdictFP:
		t.FP++
	case model.VerdictSkipped:
		t.Skipped++
	}
}

func (t Tally) Committed() int {
	return t.TP + t.FP + t.Skipped
}

// Session walks a queue one match at a time. A verdict is accepted only for
// the match currently presented and is committed to the store and the ledger
// together before the next match is shown.
type Session struct {
	mu     sync.Mutex
	src    Source
	ledger Ledger
	actor  string
	now    func() time.Time

	queue  *Queue
	pos    int
	state  State
	cancel context.CancelFunc
	tally  Tally
}

func NewSession(src Source, ledger Ledger, queue *Queue, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Session{src: src, ledger: ledger, actor: opts.Actor, now: now, queue: queue}
	if queue.Len() == 0 {
		s.state = StateDone
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Tally() Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally
}

// Progress returns the position of the current match and the queue length.
func (s *Session) Progress() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.queue.Len()
}

func sessionDone() error {
	return model.Errorf(model.KindReviewTransaction, model.CodeSessionDone, "review session is finished")
}

// Next presents the current match. Calling it again before a verdict returns
// the same match.
func (s *Session) Next() (store.MatchRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDone:
		return store.MatchRef{}, sessionDone()
	case StateCommitting:
		return store.MatchRef{}, model.Errorf(model.KindReviewTransaction, model.CodeNotCurrent, "verdict commit in progress")
	}
	ref, _ := s.queue.at(s.pos)
	s.state = StateAwaitingVerdict
	return ref, nil
}

// Pass moves on without a verdict, leaving the match as it is.
func (s *Session) Pass() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDone {
		return sessionDone()
	}
	if s.state != StateAwaitingVerdict {
		return model.Errorf(model.KindReviewTransaction, model.CodeNotCurrent, "no match is presented")
	}
	s.tally.Passed++
	s.advance()
	return nil
}

// Submit commits a verdict for matchID, which must be the match presented.
// UNSURE is stored as SKIPPED. On failure the session stays on the same match
// and nothing was persisted.
func (s *Session) Submit(ctx context.Context, matchID string, verdict model.Verdict, reason string) (store.MatchRef, error) {
	s.mu.Lock()
	switch s.state {
	case StateDone:
		s.mu.Unlock()
		return store.MatchRef{}, sessionDone()
	case StateAwaitingVerdict:
	default:
		s.mu.Unlock()
		return store.MatchRef{}, model.Errorf(model.KindReviewTransaction, model.CodeNotCurrent, "no match is presented")
	}
	cur, _ := s.queue.at(s.pos)
	if cur.Match.ID != matchID {
		s.mu.Unlock()
		return store.MatchRef{}, model.Errorf(model.KindReviewTransaction, model.CodeNotCurrent, "match %s is not under review", matchID)
	}
	v := verdict.Normalize()
	if !v.Valid() || v == model.VerdictPending {
		s.mu.Unlock()
		return store.MatchRef{}, model.Errorf(model.KindReviewTransaction, model.CodeInvalid, "invalid verdict %q", verdict)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateCommitting
	s.mu.Unlock()

	var ledger store.LedgerAppend
	if s.ledger != nil {
		ledger = s.appender(v, reason)
	}
	ref, err := s.src.CommitVerdict(ctx, matchID, v, s.actor, ledger)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	if err != nil {
		if s.state != StateDone {
			s.state = StateAwaitingVerdict
		}
		log.Debug().Str("match", matchID).Err(err).Msg("Verdict not committed")
		return ref, err
	}
	s.tally.add(v)
	if s.state != StateDone {
		s.advance()
	}
	return ref, nil
}

// Quit ends the session. A commit in flight is cancelled and rolls back
// unless it already completed. Earlier verdicts stay committed.
func (s *Session) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.state = StateDone
}

func (s *Session) advance() {
	s.pos++
	if s.pos >= s.queue.Len() {
		s.state = StateDone
		return
	}
	s.state = StatePresenting
}

func (s *Session) appender(v model.Verdict, reason string) store.LedgerAppend {
	return func(ref store.MatchRef) (func() error, error) {
		return s.ledger.Append(FeedbackRecord(ref, v, reason, s.now()))
	}
}

// FeedbackRecord builds the ledger line for a committed verdict. Only the
// masked context leaves the store.
func FeedbackRecord(ref store.MatchRef, v model.Verdict, reason string, at time.Time) model.ReviewFeedbackRecord {
	return model.ReviewFeedbackRecord{
		MatchID:            ref.Match.ID,
		EntityType:         ref.Match.EntityType,
		Verdict:            v.Normalize(),
		ConfidenceAtReview: ref.Match.FinalConfidence,
		DetectorSource:     string(ref.Match.PrimarySource()),
		ContextSnippet:     ref.Match.Context,
		Reason:             reason,
		Timestamp:          at,
	}
}
