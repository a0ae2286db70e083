package review

import (
	"context"
	"errors"
	"strings"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/CompassSecurity/docleek/internal/cmd/common"
	"github.com/CompassSecurity/docleek/pkg/feedback"
	"github.com/CompassSecurity/docleek/pkg/model"
	pkgreview "github.com/CompassSecurity/docleek/pkg/review"
	"github.com/CompassSecurity/docleek/pkg/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type ReviewOptions struct {
	ScanID      string
	EntityTypes []string
	Reason      string
}

var options ReviewOptions

func NewReviewCmd() *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Review pending matches one by one",
		Long: `Present pending matches, least confident first, and record a verdict for each.

Keys:
  t  true positive
  f  false positive
  u  unsure, stored as skipped
  p  pass, leave the match pending
  q  quit, Esc and Ctrl+C work as well

Every verdict is written to the store and the feedback ledger together.`,
		Example: `
# Review everything pending
docleek review

# Review the SSN and credit card matches of one scan
docleek review --scan 3f9a... --entity ssn --entity credit_card

# Work through the 50 least confident matches
docleek review --limit 50 --max-confidence 0.6
		`,
		Annotations: map[string]string{common.KeyboardAnnotation: "owned"},
		Run:         Review,
	}

	reviewCmd.Flags().StringVar(&options.ScanID, "scan", "", "Only review matches of this scan")
	reviewCmd.Flags().StringSliceVar(&options.EntityTypes, "entity", nil, "Only review these entity types")
	reviewCmd.Flags().StringVar(&options.Reason, "reason", "", "Reason recorded with every verdict of this session")
	reviewCmd.Flags().Bool("all", false, "Also present matches that already carry a verdict")
	reviewCmd.Flags().String("ledger", "", "Path of the feedback ledger")
	reviewCmd.Flags().Float64("max-confidence", 0, "Only review matches scored at or below this confidence, 0 for all")
	reviewCmd.Flags().Int("limit", 0, "Review at most this many matches, 0 for all")

	return reviewCmd
}

func Review(cmd *cobra.Command, args []string) {
	cfg := common.LoadConfig(cmd)
	ctx, stop := common.SignalContext()
	defer stop()

	st := common.OpenStore(ctx, cfg)
	defer func() { _ = st.Close() }()

	ledger, err := feedback.Open(cfg.Review.LedgerPath)
	if err != nil {
		log.Fatal().Err(err).Str("ledger", cfg.Review.LedgerPath).Msg("Failed opening feedback ledger")
	}
	defer func() { _ = ledger.Close() }()

	queue, err := pkgreview.LoadQueue(ctx, st, pkgreview.QueueOptions{
		ScanID:        options.ScanID,
		EntityTypes:   entityTypes(options.EntityTypes),
		IncludeAll:    cfg.Review.IncludeAll,
		MaxConfidence: cfg.Review.MaxConfidence,
		Limit:         cfg.Review.Limit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed loading review queue")
	}
	if queue.Len() == 0 {
		log.Info().Msg("Nothing to review")
		return
	}

	session := pkgreview.NewSession(st, ledger, queue, pkgreview.Options{Actor: cfg.Actor})
	r := &reviewer{session: session, reason: options.Reason}
	go func() {
		<-ctx.Done()
		session.Quit()
	}()

	if r.present() {
		err = keyboard.Listen(func(key keys.Key) (bool, error) {
			return r.handle(ctx, key), nil
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed reading the keyboard")
		}
	}

	t := session.Tally()
	pos, total := session.Progress()
	log.Info().
		Int("tp", t.TP).
		Int("fp", t.FP).
		Int("skipped", t.Skipped).
		Int("passed", t.Passed).
		Int("reviewed", pos).
		Int("queued", total).
		Str("ledger", ledger.Path()).
		Msg("Review finished")
}

func entityTypes(names []string) []model.EntityType {
	out := make([]model.EntityType, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, model.EntityType(strings.ToLower(n)))
		}
	}
	return out
}

type action int

const (
	actionNone action = iota
	actionVerdict
	actionPass
	actionQuit
)

var verdictKeys = map[string]model.Verdict{
	"t": model.VerdictTP,
	"f": model.VerdictFP,
	"u": model.VerdictUnsure,
}

func keyAction(key keys.Key) (action, model.Verdict) {
	switch key.Code {
	case keys.CtrlC, keys.Escape:
		return actionQuit, ""
	case keys.Space:
		return actionPass, ""
	case keys.RuneKey:
		k := strings.ToLower(key.String())
		if v, ok := verdictKeys[k]; ok {
			return actionVerdict, v
		}
		switch k {
		case "p":
			return actionPass, ""
		case "q":
			return actionQuit, ""
		}
	}
	return actionNone, ""
}

// reviewer drives a session from key presses.
type reviewer struct {
	session *pkgreview.Session
	reason  string
	current store.MatchRef
}

// present shows the next match. It returns false once the session is done.
func (r *reviewer) present() bool {
	ref, err := r.session.Next()
	if err != nil {
		var merr *model.Error
		if errors.As(err, &merr) && merr.Code == model.CodeSessionDone {
			return false
		}
		log.Error().Err(err).Msg("Cannot present the next match")
		return false
	}
	r.current = ref
	pos, total := r.session.Progress()
	m := ref.Match
	log.Info().
		Int("item", pos+1).
		Int("of", total).
		Str("path", ref.FilePath).
		Int("line", m.Span.Line).
		Str("entity", string(m.EntityType)).
		Str("value", m.RedactedValue).
		Float64("confidence", m.FinalConfidence).
		Str("verdict", string(m.Verdict)).
		Str("source", string(m.PrimarySource())).
		Str("context", m.Context).
		Msg("[t]rue [f]alse [u]nsure [p]ass [q]uit")
	return true
}

// handle applies one key and returns true when the session has ended.
func (r *reviewer) handle(ctx context.Context, key keys.Key) bool {
	act, verdict := keyAction(key)
	switch act {
	case actionNone:
		return false
	case actionQuit:
		r.session.Quit()
		return true
	case actionPass:
		if err := r.session.Pass(); err != nil {
			log.Error().Err(err).Msg("Pass failed")
			return r.session.State() == pkgreview.StateDone
		}
	case actionVerdict:
		if _, err := r.session.Submit(ctx, r.current.Match.ID, verdict, r.reason); err != nil {
			var merr *model.Error
			if errors.As(err, &merr) && merr.Retryable() {
				log.Warn().Err(err).Msg("Verdict not saved, try again")
			} else {
				log.Error().Err(err).Str("match", r.current.Match.ID).Msg("Verdict rejected")
			}
			return r.session.State() == pkgreview.StateDone
		}
		log.Debug().Str("match", r.current.Match.ID).Str("verdict", string(verdict.Normalize())).Msg("Verdict saved")
	}
	return !r.present()
}
