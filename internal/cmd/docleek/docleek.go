package docleek

import (
	"github.com/CompassSecurity/docleek/internal/cmd/docleek/audit"
	"github.com/CompassSecurity/docleek/internal/cmd/docleek/feedback"
	"github.com/CompassSecurity/docleek/internal/cmd/docleek/review"
	"github.com/CompassSecurity/docleek/internal/cmd/docleek/scan"
	"github.com/CompassSecurity/docleek/internal/cmd/docleek/scans"
	"github.com/spf13/cobra"
)

func NewDocleekRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docleek [command]",
		Short: "Find sensitive data in documents and recommend sensitivity labels",
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "Scan", Title: "Scanning"},
		&cobra.Group{ID: "Review", Title: "Review"},
		&cobra.Group{ID: "Store", Title: "Findings store"},
	)

	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			rootCmd.AddCommand(c)
		}
	}
	add("Scan", scan.NewScanCmd(), scans.NewRelabelCmd())
	add("Review", review.NewReviewCmd(), feedback.NewFeedbackRootCmd())
	add("Store", scans.NewScansCmd(), scans.NewStatsCmd(), scans.NewPurgeCmd(), scans.NewExportCmd(), scans.NewImportCmd(), audit.NewAuditCmd())

	return rootCmd
}
