package scan

import (
	"context"

	"github.com/CompassSecurity/docleek/internal/cmd/common"
	"github.com/CompassSecurity/docleek/pkg/logging"
	"github.com/CompassSecurity/docleek/pkg/model"
	pkgscan "github.com/CompassSecurity/docleek/pkg/scan"
	"github.com/CompassSecurity/docleek/pkg/scan/result"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type ScanOptions struct {
	Report result.ReportOptions
	// DryRun reports findings without persisting the scan
	DryRun bool
}

var options ScanOptions

func NewScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a file or directory tree for sensitive data",
		Long: `Scan every file below <path> for personal data and secrets, recommend a sensitivity label per file and persist the findings in the encrypted store.

Only redacted values and masked context are printed or stored.
While scanning press s for the progress, t/d/i/w/e to change the log level and Ctrl+C to stop. Files already being scanned finish and the scan is stored as cancelled.`,
		Example: `
# Scan a share with 8 workers
docleek scan /mnt/share --workers 8

# Ask the recognizer and classifier sidecars as well
docleek scan ./exports --recognizer-url http://localhost:5002 --classifier-url http://localhost:5003

# Report matches together with their masked context, store nothing
docleek scan ./hr --context --dry-run
		`,
		Args: cobra.ExactArgs(1),
		Run:  Scan,
	}

	flags := scanCmd.Flags()
	flags.IntP("workers", "w", 0, "Number of files scanned concurrently")
	flags.Duration("file-timeout", 0, "Timeout for extracting and analyzing a single file")
	flags.String("max-file-size", "", "Larger files are reported as oversized and not read, e.g. 100MB")
	flags.String("queue-folder", "", "Folder holding the on-disk work queue, defaults to the OS temp dir")
	flags.Float64("threshold", 0, "Confidence at or above which a match is accepted without review")
	flags.Bool("secrets", true, "Run the trufflehog secret detectors")
	flags.Bool("verify", false, "Verify found credentials against their providers")
	flags.String("recognizer-url", "", "Base URL of the named entity recognizer sidecar")
	flags.String("classifier-url", "", "Base URL of the true/false positive classifier sidecar")
	flags.BoolVar(&options.Report.Context, "context", false, "Print the masked context of every match")
	flags.BoolVar(&options.Report.TestData, "test-data", false, "Also print matches flagged as test data")
	flags.BoolVar(&options.DryRun, "dry-run", false, "Do not persist the scan")

	return scanCmd
}

func Scan(cmd *cobra.Command, args []string) {
	cfg := common.LoadConfig(cmd)
	ctx, stop := common.SignalContext()
	defer stop()

	scanner, err := pkgscan.New(cfg, pkgscan.WithReporter(func(f model.FileResult) {
		result.ReportFile(f, options.Report)
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed initializing scanner")
	}
	defer func() { _ = scanner.Close() }()

	logging.RegisterStatusHook(func() *zerolog.Event {
		done, total := scanner.Progress()
		return log.Info().Int64("scanned", done).Int64("queued", total)
	})

	if options.DryRun {
		rec, err := scanner.Scan(ctx, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("path", args[0]).Msg("Scan failed")
		}
		logSummary(rec)
		return
	}

	// the key is checked before any file is read
	st := common.OpenStore(ctx, cfg)
	defer func() { _ = st.Close() }()

	rec, err := scanner.Scan(ctx, args[0])
	if err != nil {
		log.Fatal().Err(err).Str("path", args[0]).Msg("Scan failed")
	}
	if err := st.SaveScan(context.WithoutCancel(ctx), &rec); err != nil {
		log.Fatal().Err(err).Str("scan", rec.ScanID).Msg("Failed storing scan")
	}
	logSummary(rec)
}

func logSummary(rec model.ScanRecord) {
	sum := rec.Summary()
	ev := log.Info()
	if rec.Cancelled {
		ev = log.Warn()
	}
	ev.Str("scan", rec.ScanID).
		Int("files", sum.TotalFiles).
		Int("filesWithMatches", sum.FilesWithMatches).
		Int("filesErrored", sum.FilesErrored).
		Int("matches", sum.TotalMatches).
		Int("pending", sum.PendingMatches).
		Bool("cancelled", rec.Cancelled).
		Dur("took", rec.CompletedAt.Sub(rec.StartedAt)).
		Msg("Scan finished")
}
