package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/orchestra"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of orchestra",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchestra version %s\n", strings.TrimSpace(orchestra.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
