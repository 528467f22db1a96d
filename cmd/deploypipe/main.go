package main

import (
	"strings"

	"github.com/loykin/deploypipe/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = "./deploypipe.yaml"

var rootCmd = &cobra.Command{
	Use:           "deploypipe",
	Short:         "Build, inspect and run deployment pipelines per environment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	v := viper.GetViper()
	v.SetDefault("config", defaultConfigPath)
	v.SetDefault("format", "text")

	// Environment variables support: DEPLOYPIPE_CONFIG, ...
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", v.GetString("config"), "path to the deploypipe config yaml")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
