package cli

import (
	"github.com/spf13/cobra"
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [service...]",
		Short: "Build every service, or the named ones, and push them when --repo is set",
		RunE:  buildCommand,
	}
	addBuildFlags(cmd)
	return cmd
}

func buildCommand(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(buildVars)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(vars)
	if err != nil {
		return err
	}
	services, err := selectServices(cfg, args)
	if err != nil {
		return err
	}

	_, err = build(cmd.Context(), cfg, services, nil)
	return err
}
