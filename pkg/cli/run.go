package cli

import (
	"github.com/spf13/cobra"

	"github.com/steigerbuild/steiger/pkg/errors"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [service...]",
		Short: "Build and push every service, then deploy the releases",
		RunE:  runCommand,
	}
	addBuildFlags(cmd)
	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
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

	d := newDeployer(cfg)
	// Fail on an invalid release before spending time on builds.
	if err := d.Validate(cmd.Context()); err != nil {
		return errors.DeployFailed("invalid release", err)
	}

	_, err = build(cmd.Context(), cfg, services, d)
	return err
}
