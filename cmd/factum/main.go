package main

import (
	"os"

	cmd "github.com/attestnetworks/factum/cmd/factum/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.NewKeygenCmd(),
		cmd.NewRunCmd(),
		cmd.VersionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
