package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pintoscore",
	Short: "Format, boot, and exercise a pintoscore storage/VM volume",
}

func init() {
	bindConfigFlags(rootCmd)
	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statCmd)
}
