// sextantctl is the operator CLI for the search service.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"sextant/pkg/version"
)

func main() {
	root := &cobra.Command{
		Use:          "sextantctl",
		Short:        "Operator tooling for the sextant search service",
		Version:      version.Version,
		SilenceUsage: true,
	}
	root.AddCommand(newExportCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
