package commands

import (
	"github.com/spf13/cobra"

	"github.com/attestnetworks/factum/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for Factum
var RootCmd = &cobra.Command{
	Use:              "factum",
	Short:            "factum fact ledger",
	TraverseChildren: true,
}
