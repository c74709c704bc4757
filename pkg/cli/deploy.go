package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/deploy"
	"github.com/steigerbuild/steiger/pkg/errors"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/report"
	"github.com/steigerbuild/steiger/pkg/util/console"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

var deployInput string

func newDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the releases of the project using a build manifest",
		Args:  cobra.NoArgs,
		RunE:  deployCommand,
	}
	cmd.Flags().StringVarP(&deployInput, "input", "i", "", "Build manifest written by 'steiger build --output', a file or s3://bucket/key")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func deployCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.EnvironmentVars())
	if err != nil {
		return err
	}
	manifest, err := report.ReadManifest(cmd.Context(), deployInput)
	if err != nil {
		return err
	}

	if !strings.HasPrefix(deployInput, "s3://") {
		if info, err := os.Stat(deployInput); err == nil {
			console.Infof("Deploying %d images from %s, written %s", len(manifest.Builds), deployInput, console.FormatTime(info.ModTime()))
		}
	}

	d := newDeployer(cfg)
	if err := d.Validate(cmd.Context()); err != nil {
		return errors.DeployFailed("invalid release", err)
	}
	if err := d.Deploy(cmd.Context(), manifest); err != nil {
		return errors.DeployFailed("one or more deployments failed", err)
	}
	return nil
}

func newDeployer(cfg *config.Config) *deploy.MetaDeployer {
	return deploy.NewMetaDeployer(shell.NewExecRunner(), cfg, progress.NewConsoleSink(nil))
}
