package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of replayfuzz",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("replayfuzz version %s\n", strings.TrimSpace(replayfuzz.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
