package audit

import (
	"time"

	"github.com/CompassSecurity/docleek/internal/cmd/common"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/CompassSecurity/docleek/pkg/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type AuditOptions struct {
	Action       string
	ScanID       string
	Since        time.Duration
	FailuresOnly bool
	Summary      bool
}

var options AuditOptions

func NewAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log of the findings store",
		Long:  "Audit prints the append-only log of every read and write against the findings store. It does not need the store key.",
		Example: `
# Failed operations of the last day
docleek audit --failures --since 24h

# Count operations per action and actor
docleek audit --summary
		`,
		Args: cobra.NoArgs,
		Run:  Audit,
	}
	auditCmd.Flags().StringVar(&options.Action, "action", "", "Only show this action, e.g. review_verdict")
	auditCmd.Flags().StringVar(&options.ScanID, "scan", "", "Only show entries of this scan")
	auditCmd.Flags().DurationVar(&options.Since, "since", 0, "Only show entries younger than this")
	auditCmd.Flags().BoolVar(&options.FailuresOnly, "failures", false, "Only show failed operations")
	auditCmd.Flags().BoolVar(&options.Summary, "summary", false, "Print counts instead of entries")
	return auditCmd
}

func Audit(cmd *cobra.Command, args []string) {
	cfg := common.LoadConfig(cmd)
	path := store.OptionsFromConfig(cfg).AuditLogPath()

	entries, err := store.ReadAuditLog(path, filterFor(options, time.Now()))
	if err != nil {
		log.Fatal().Err(err).Str("auditLog", path).Msg("Failed reading audit log")
	}

	if options.Summary {
		s := store.SummarizeAudit(entries)
		for action, n := range s.ByAction {
			log.Info().Str("action", string(action)).Int("count", n).Msg("Action")
		}
		for actor, n := range s.ByActor {
			log.Info().Str("actor", actor).Int("count", n).Msg("Actor")
		}
		log.Info().Int("total", s.Total).Int("failures", s.Failures).Msg("Audit summary")
		return
	}

	for _, e := range entries {
		ev := log.Info()
		if !e.Success {
			ev = log.Warn().Str("errorKind", string(e.ErrorKind)).Str("errorCode", e.ErrorCode)
		}
		ev.Time("at", e.Timestamp).
			Str("action", string(e.Action)).
			Str("actor", e.Actor).
			Str("scan", e.ScanID).
			Int("records", e.AffectedRecordCount).
			Bool("success", e.Success).
			Msg("Audit")
	}
	log.Info().Int("entries", len(entries)).Str("auditLog", path).Msg("Read audit log")
}

func filterFor(o AuditOptions, now time.Time) store.AuditFilter {
	f := store.AuditFilter{
		Action:       model.AuditAction(o.Action),
		ScanID:       o.ScanID,
		FailuresOnly: o.FailuresOnly,
	}
	if o.Since > 0 {
		f.Since = now.Add(-o.Since)
	}
	return f
}
