package main

import (
	"github.com/CompassSecurity/docleek/internal/cmd/common"
	"github.com/CompassSecurity/docleek/internal/cmd/docleek"
	"github.com/spf13/cobra"
)

func main() {
	common.Run(newRootCmd())
}

func newRootCmd() *cobra.Command {
	rootCmd := docleek.NewDocleekRootCmd()
	rootCmd.Use = "docleek"
	rootCmd.Long = `Docleek scans document trees for personal data and secrets, recommends a sensitivity label per file and keeps the redacted findings in an encrypted store for human review.`
	rootCmd.Version = common.Version

	common.SetupPersistentPreRun(rootCmd)
	common.AddCommonFlags(rootCmd)

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	return rootCmd
}
