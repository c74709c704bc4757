package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/errors"
)

var (
	buildRepo               string
	buildPlatform           string
	buildOutput             string
	buildTag                string
	buildGitTag             bool
	buildConcurrency        int
	buildInsecureRegistries []string
	buildVars               []string
	buildTimeout            time.Duration
	kubeconfigFlag          string
	kubeContextFlag         string
)

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&buildRepo, "repo", "r", "", "Repository to push images to, e.g. ghcr.io/acme. Images are only built when empty")
	cmd.Flags().StringVar(&buildPlatform, "platform", "", "Target platform, e.g. linux/arm64. Defaults to the cluster's platform, then the host's")
	cmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Write the build manifest to a file or s3://bucket/key instead of stdout")
	cmd.Flags().StringVarP(&buildTag, "tag", "t", "", "Tag applied to every image")
	cmd.Flags().BoolVar(&buildGitTag, "git-tag", false, "Tag every image with the git tag or commit of the project")
	cmd.Flags().IntVarP(&buildConcurrency, "concurrency", "j", 0, "Maximum number of services built at once, 0 for no limit")
	cmd.Flags().StringArrayVar(&buildInsecureRegistries, "insecure-registry", nil, "Registry host to reach over plain HTTP, may be repeated")
	cmd.Flags().StringArrayVar(&buildVars, "var", nil, "Variable for ${name} references in the config, in the form name=value")
	cmd.Flags().DurationVar(&buildTimeout, "build-timeout", 0, "Maximum time a single service may take to build, 0 for no limit")
	cmd.Flags().StringVar(&kubeconfigFlag, "kubeconfig", "", "Kubeconfig used to detect the cluster platform")
	cmd.Flags().StringVar(&kubeContextFlag, "kube-context", "", "Kubeconfig context used to detect the cluster platform")
	cmd.MarkFlagsMutuallyExclusive("tag", "git-tag")
}

// parseVars turns name=value flags into a variable table layered over the environment.
func parseVars(flags []string) (config.Vars, error) {
	vars := config.Vars{}
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, errors.InvalidConfig(fmt.Sprintf("invalid --var %q, expected name=value", f), nil)
		}
		vars[name] = value
	}
	return config.EnvironmentVars().Merge(vars), nil
}
