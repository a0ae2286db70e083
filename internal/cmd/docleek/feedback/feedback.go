package feedback

import (
	"os"
	"strings"

	"github.com/CompassSecurity/docleek/internal/cmd/common"
	pkgfeedback "github.com/CompassSecurity/docleek/pkg/feedback"
	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type FeedbackOptions struct {
	EntityTypes []string
	Verdicts    []string
	Output      string
}

func NewFeedbackRootCmd() *cobra.Command {
	var options FeedbackOptions
	feedbackCmd := &cobra.Command{
		Use:   "feedback [command]",
		Short: "Work with the review feedback ledger",
		Long:  "The feedback ledger holds one JSON line per review verdict. It is the training input for the classifier and contains masked context only.",
	}
	feedbackCmd.PersistentFlags().String("ledger", "", "Path of the feedback ledger")
	feedbackCmd.PersistentFlags().StringSliceVar(&options.EntityTypes, "entity", nil, "Only use records of these entity types")
	feedbackCmd.PersistentFlags().StringSliceVar(&options.Verdicts, "verdict", nil, "Only use records with these verdicts: TP, FP, SKIPPED")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the selected ledger records as JSON lines",
		Example: `
docleek feedback export --verdict TP --verdict FP -o train.jsonl
		`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			out := os.Stdout
			if options.Output != "" {
				// #nosec G304 - user supplied output file
				f, err := os.OpenFile(options.Output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, format.FileUserReadWrite)
				if err != nil {
					log.Fatal().Err(err).Str("output", options.Output).Msg("Failed creating output file")
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			n, err := pkgfeedback.Export(cfg.Review.LedgerPath, out, filterFor(options))
			if err != nil {
				log.Fatal().Err(err).Str("ledger", cfg.Review.LedgerPath).Msg("Failed exporting feedback")
			}
			log.Info().Int("records", n).Str("ledger", cfg.Review.LedgerPath).Msg("Exported feedback")
		},
	}
	exportCmd.Flags().StringVarP(&options.Output, "output", "o", "", "Output file, defaults to stdout")

	statsCmd := &cobra.Command{
		Use:     "stats",
		Short:   "Show verdict counts and reviewer precision per entity type",
		Example: "docleek feedback stats --entity ssn",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			entries, err := pkgfeedback.Read(cfg.Review.LedgerPath, filterFor(options))
			if err != nil {
				log.Fatal().Err(err).Str("ledger", cfg.Review.LedgerPath).Msg("Failed reading feedback")
			}
			s := pkgfeedback.Summarize(entries)
			for _, e := range s.ByEntity {
				log.Info().
					Str("entity", string(e.EntityType)).
					Int("tp", e.TP).
					Int("fp", e.FP).
					Int("skipped", e.Skipped).
					Float64("precision", e.Precision()).
					Msg("Entity")
			}
			log.Info().Int("total", s.Total).Int("tp", s.TP).Int("fp", s.FP).Int("skipped", s.Skipped).Msg("Feedback stats")
		},
	}

	feedbackCmd.AddCommand(exportCmd, statsCmd)
	return feedbackCmd
}

func filterFor(o FeedbackOptions) pkgfeedback.Filter {
	var f pkgfeedback.Filter
	for _, e := range o.EntityTypes {
		if e = strings.TrimSpace(e); e != "" {
			f.EntityTypes = append(f.EntityTypes, model.EntityType(strings.ToLower(e)))
		}
	}
	for _, v := range o.Verdicts {
		if v = strings.TrimSpace(v); v != "" {
			f.Verdicts = append(f.Verdicts, model.Verdict(strings.ToUpper(v)))
		}
	}
	return f
}
