// Package scans holds the commands that manage stored scans.
package scans

import (
	"context"
	"io"
	"os"

	"github.com/CompassSecurity/docleek/internal/cmd/common"
	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewScansCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "scans",
		Short:   "List stored scans",
		Example: "docleek scans --store findings.db",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			ctx := context.Background()
			st := common.OpenStore(ctx, cfg)
			defer func() { _ = st.Close() }()

			infos, err := st.ListScans(ctx)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed listing scans")
			}
			for _, i := range infos {
				log.Info().
					Str("scan", i.ScanID).
					Str("source", i.SourcePath).
					Time("started", i.StartedAt).
					Int("files", i.Files).
					Int("matches", i.Matches).
					Int("pending", i.Pending).
					Bool("cancelled", i.Cancelled).
					Msg("Scan")
			}
			log.Info().Int("count", len(infos)).Msg("Listed scans")
		},
	}
}

func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "purge <scan-id>",
		Short:   "Delete a scan with all its files and matches",
		Example: "docleek purge 3f9a0c...",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			ctx := context.Background()
			st := common.OpenStore(ctx, cfg)
			defer func() { _ = st.Close() }()

			n, err := st.Purge(ctx, args[0])
			if err != nil {
				log.Fatal().Err(err).Str("scan", args[0]).Msg("Failed purging scan")
			}
			log.Info().Str("scan", args[0]).Int("records", n).Msg("Purged scan")
		},
	}
}

func NewExportCmd() *cobra.Command {
	var output string
	exportCmd := &cobra.Command{
		Use:   "export <scan-id>",
		Short: "Export a stored scan as decrypted JSON",
		Long: `Export writes the scan record as JSON. Values stay redacted and context stays masked, but file paths are in clear text.
The output file is created readable by the owner only.`,
		Example: `
docleek export 3f9a0c... -o scan.json
docleek export 3f9a0c... | jq '.file_results[].label_recommendation'
		`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			ctx := context.Background()
			st := common.OpenStore(ctx, cfg)
			defer func() { _ = st.Close() }()

			w, closeFn := openOutput(output)
			defer closeFn()
			if err := st.Export(ctx, args[0], w); err != nil {
				log.Fatal().Err(err).Str("scan", args[0]).Msg("Failed exporting scan")
			}
			log.Debug().Str("scan", args[0]).Str("output", output).Msg("Exported scan")
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Output file, defaults to stdout")
	return exportCmd
}

func NewImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "import <file>",
		Short:   "Import a scan exported from another store",
		Example: "docleek import scan.json --store other.db",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			ctx := context.Background()

			// #nosec G304 - user supplied export file
			f, err := os.Open(args[0])
			if err != nil {
				log.Fatal().Err(err).Str("file", args[0]).Msg("Failed opening export")
			}
			defer func() { _ = f.Close() }()

			st := common.OpenStore(ctx, cfg)
			defer func() { _ = st.Close() }()

			rec, err := st.Import(ctx, f)
			if err != nil {
				log.Fatal().Err(err).Str("file", args[0]).Msg("Failed importing scan")
			}
			log.Info().Str("scan", rec.ScanID).Int("files", len(rec.FileResults)).Int("matches", rec.MatchCount()).Msg("Imported scan")
		},
	}
}

func NewStatsCmd() *cobra.Command {
	var scanID string
	statsCmd := &cobra.Command{
		Use:     "stats",
		Short:   "Count stored matches by entity type and verdict",
		Example: "docleek stats --scan 3f9a0c...",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := common.LoadConfig(cmd)
			ctx := context.Background()
			st := common.OpenStore(ctx, cfg)
			defer func() { _ = st.Close() }()

			stats, err := st.Stats(ctx, scanID)
			if err != nil {
				log.Fatal().Err(err).Str("scan", scanID).Msg("Failed computing stats")
			}
			logStats(stats)
		},
	}
	statsCmd.Flags().StringVar(&scanID, "scan", "", "Only count matches of this scan")
	return statsCmd
}

func logStats(s store.Stats) {
	for entity, n := range s.ByEntity {
		log.Info().Str("entity", string(entity)).Int("matches", n).Msg("Entity")
	}
	for verdict, n := range s.ByVerdict {
		log.Info().Str("verdict", string(verdict)).Int("matches", n).Msg("Verdict")
	}
	log.Info().Int("scans", s.Scans).Int("files", s.Files).Int("matches", s.Matches).Int("testData", s.TestData).Msg("Stats")
}

// openOutput returns stdout for an empty path, or a new owner-only file.
func openOutput(path string) (io.Writer, func()) {
	if path == "" {
		return os.Stdout, func() {}
	}
	// #nosec G304 - user supplied output file
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, format.FileUserReadWrite)
	if err != nil {
		log.Fatal().Err(err).Str("output", path).Msg("Failed creating output file")
	}
	return f, func() {
		if err := f.Close(); err != nil {
			log.Error().Err(err).Str("output", path).Msg("Failed closing output file")
		}
	}
}
