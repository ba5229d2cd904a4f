package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lagoon-cms/searchsync/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:           "searchsync",
		Short:         "Sync CMS entities into the search index and serve search queries",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.Commit, version.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newRebuildCmd(),
		newInitCmd(),
		newReconcileCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
