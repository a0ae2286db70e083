package scans

import (
	"context"
	"encoding/json"
	"os"

	"github.com/CompassSecurity/docleek/internal/cmd/common"
	"github.com/CompassSecurity/docleek/pkg/detector/tpfp"
	"github.com/CompassSecurity/docleek/pkg/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type RelabelOptions struct {
	ScanID     string
	ScoresFile string
}

func NewRelabelCmd() *cobra.Command {
	var options RelabelOptions
	relabelCmd := &cobra.Command{
		Use:   "relabel",
		Short: "Rescore unreviewed matches with a retrained classifier",
		Long: `Relabel sends the masked context of every match nobody has reviewed to the classifier and stores the new confidence.
A match is only updated when the classifier model version is newer than the one that scored it.
Instead of asking the classifier, scores can be read from a file holding {"model_version": "...", "scores": [{"match_id": "...", "score": 0.9}]}.`,
		Example: `
docleek relabel --classifier-url http://localhost:5003
docleek relabel --scan 3f9a0c... --scores scores.json
		`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			if options.ScoresFile == "" && !cfg.Classifier.Enabled() {
				log.Fatal().Msg("Either --classifier-url or --scores is required")
			}
			ctx, stop := common.SignalContext()
			defer stop()

			st := common.OpenStore(ctx, cfg)
			defer func() { _ = st.Close() }()

			refs, err := st.ListMatches(ctx, store.MatchFilter{ScanID: options.ScanID})
			if err != nil {
				log.Fatal().Err(err).Msg("Failed listing matches")
			}
			items := unreviewedItems(refs)
			if len(items) == 0 {
				log.Info().Msg("No unreviewed matches to relabel")
				return
			}

			var res tpfp.Result
			if options.ScoresFile != "" {
				res, err = readScores(options.ScoresFile)
			} else {
				client := tpfp.New(cfg.Classifier.URL, cfg.Classifier.Timeout)
				defer func() { _ = client.Close() }()
				res, err = client.Score(ctx, items)
			}
			if err != nil {
				log.Fatal().Err(err).Msg("Failed obtaining classifier scores")
			}

			n, err := st.Relabel(context.WithoutCancel(ctx), relabelRequest(options.ScanID, res, cfg.Fusion.ReviewThreshold))
			if err != nil {
				log.Fatal().Err(err).Str("modelVersion", res.ModelVersion).Msg("Relabel failed")
			}
			log.Info().Int("submitted", len(items)).Int("updated", n).Str("modelVersion", res.ModelVersion).Msg("Relabeled matches")
		},
	}
	relabelCmd.Flags().StringVar(&options.ScanID, "scan", "", "Only relabel matches of this scan")
	relabelCmd.Flags().StringVar(&options.ScoresFile, "scores", "", "Read scores from a JSON file instead of the classifier")
	relabelCmd.Flags().String("classifier-url", "", "Base URL of the true/false positive classifier sidecar")
	relabelCmd.Flags().Float64("threshold", 0, "Confidence at or above which a match is accepted without review")
	return relabelCmd
}

// unreviewedItems returns classifier items for matches without a human verdict.
func unreviewedItems(refs []store.MatchRef) []tpfp.Item {
	items := make([]tpfp.Item, 0, len(refs))
	for _, r := range refs {
		if r.Match.ReviewedBy != "" {
			continue
		}
		items = append(items, tpfp.Item{MatchID: r.Match.ID, EntityType: r.Match.EntityType, Context: r.Match.Context})
	}
	return items
}

func relabelRequest(scanID string, res tpfp.Result, threshold float64) store.RelabelRequest {
	scores := make(map[string]float64, len(res.Scores))
	for _, s := range res.Scores {
		scores[s.MatchID] = s.Score
	}
	return store.RelabelRequest{
		ScanID:       scanID,
		ModelVersion: res.ModelVersion,
		Scores:       scores,
		Threshold:    threshold,
	}
}

func readScores(path string) (tpfp.Result, error) {
	// #nosec G304 - user supplied scores file
	raw, err := os.ReadFile(path)
	if err != nil {
		return tpfp.Result{}, err
	}
	var res tpfp.Result
	err = json.Unmarshal(raw, &res)
	return res, err
}
