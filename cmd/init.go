package cmd

import (
	"fmt"

	"github.com/gnoswap-labs/tverify/verify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// initCmd: tverify init
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfigurationFile(cfgFile); err != nil {
			logger.Error("Error initializing config file", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", cfgFile)
		return nil
	},
}

func initConfigurationFile(configurationPath string) error {
	if configurationPath == "" {
		configurationPath = verify.DefaultConfigFile
	}
	return verify.WriteConfigurationFile(configurationPath, verify.DefaultConfig())
}
