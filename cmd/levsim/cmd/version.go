package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the levsim CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "levsim version %s\n", version)
		fmt.Fprintln(out, "A leveraged crypto position and margin simulator")
		fmt.Fprintln(out, "https://github.com/rustyeddy/levsim")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
