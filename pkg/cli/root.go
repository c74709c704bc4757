// Package cli implements the steiger command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steigerbuild/steiger/pkg/global"
	"github.com/steigerbuild/steiger/pkg/util"
	"github.com/steigerbuild/steiger/pkg/util/console"
)

const logLevelEnvVar = "STEIGER_LOG_LEVEL"

var (
	configFlag   string
	dirFlag      string
	progressFlag string
)

func NewRootCommand() (*cobra.Command, error) {
	rootCmd := cobra.Command{
		Use:     "steiger",
		Short:   "Build, push and deploy every service of a project",
		Version: fmt.Sprintf("%s (built %s)", global.Version, global.BuildTime),
		// This stops errors being printed because we print them in cmd/steiger/main.go
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			console.SetLevel(util.GetEnvOrDefault(logLevelEnvVar, console.InfoLevel, console.ParseLevel))
			if global.Verbose {
				console.SetLevel(console.DebugLevel)
			}
			if !console.IsTTY(os.Stderr) {
				console.SetMachine(true)
			}
			cmd.SilenceUsage = true
		},
		SilenceErrors: true,
	}
	setPersistentFlags(&rootCmd)

	rootCmd.AddCommand(
		newBuildCommand(),
		newDeployCommand(),
		newRunCommand(),
	)

	return &rootCmd, nil
}

func setPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to the config file, defaults to "+global.ConfigFilename+" in the project directory or its parents")
	cmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "Working directory, defaults to the current directory")

	defaultProgress := "auto"
	if os.Getenv("TERM") == "dumb" {
		defaultProgress = "plain"
	}
	cmd.PersistentFlags().StringVar(&progressFlag, "progress", defaultProgress, "Set type of progress output, 'auto', 'tty', 'plain' or 'docker'")
}
