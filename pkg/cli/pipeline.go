package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steigerbuild/steiger/pkg/builder"
	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/docker"
	"github.com/steigerbuild/steiger/pkg/errors"
	"github.com/steigerbuild/steiger/pkg/events"
	"github.com/steigerbuild/steiger/pkg/git"
	"github.com/steigerbuild/steiger/pkg/global"
	"github.com/steigerbuild/steiger/pkg/metrics"
	"github.com/steigerbuild/steiger/pkg/orchestrator"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/registry"
	"github.com/steigerbuild/steiger/pkg/report"
	"github.com/steigerbuild/steiger/pkg/util/console"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

const metricsGatewayEnvVar = "STEIGER_METRICS_PUSHGATEWAY"

// loadConfig reads the project config, mapping its errors to config exit codes.
func loadConfig(vars config.Vars) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Dir: dirFlag, ConfigPath: configFlag, Vars: vars})
	if err != nil {
		if config.IsConfigError(err) {
			return nil, errors.InvalidConfig("invalid "+global.ConfigFilename, err)
		}
		return nil, err
	}
	return cfg, nil
}

// selectServices returns the services named in args, or all of them.
// A name given twice selects the service once.
func selectServices(cfg *config.Config, args []string) ([]*config.Service, error) {
	if len(args) == 0 {
		return cfg.Services, nil
	}
	var out []*config.Service
	seen := map[string]bool{}
	for _, name := range args {
		if seen[name] {
			continue
		}
		seen[name] = true
		svc, ok := cfg.Service(name)
		if !ok {
			return nil, errors.InvalidConfig(fmt.Sprintf("unknown service %q", name), nil)
		}
		out = append(out, svc)
	}
	return out, nil
}

// newSink picks the progress renderer. The returned func flushes it.
func newSink() (progress.Sink, func()) {
	mode := progressFlag
	if mode == "auto" {
		mode = "plain"
		if console.IsTTY(os.Stderr) && !global.Verbose {
			mode = "tty"
		}
	}
	switch mode {
	case "tty":
		bars := progress.NewBarSink(os.Stderr)
		return bars, bars.Wait
	case "docker":
		sink := progress.NewJSONMessageSink()
		return sink, sink.Close
	default:
		return progress.NewConsoleSink(nil), func() {}
	}
}

func humanTag(cfg *config.Config) (string, error) {
	if !buildGitTag {
		return buildTag, nil
	}
	state, err := git.ReadState(cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("deriving tag from git: %w", err)
	}
	return state.Tag(), nil
}

// Construction of the run's collaborators, replaced in tests.
var (
	newBuilder  = defaultBuilder
	newResolver = defaultResolver
)

func defaultBuilder() orchestrator.Builder {
	builders := builder.NewSet(shell.NewExecRunner())
	builders.DockerPreflight = docker.Preflight(global.PingTimeout)
	return builders
}

func defaultResolver() orchestrator.PlatformResolver {
	notify := func(msg string) { console.Info(msg) }
	detector, err := platform.NewKubeDetector(kubeconfigFlag, kubeContextFlag, global.ClusterTimeout)
	if err != nil {
		console.Debugf("cluster platform detection disabled: %v", err)
	}
	if detector == nil {
		return platform.NewResolver(nil, notify)
	}
	return platform.NewResolver(detector, notify)
}

// startEvents registers the run with the build events API when configured.
func startEvents(ctx context.Context, cfg *config.Config, services int) *events.Reporter {
	client := events.FromEnv()
	if client == nil {
		return nil
	}
	state, err := git.ReadState(cfg.Dir)
	if err != nil {
		console.Warnf("Not reporting build events, failed to read git state: %v", err)
		return nil
	}
	reporter, err := events.Start(ctx, client, buildRepo, events.TagsFor(state), services)
	if err != nil {
		console.Warnf("Not reporting build events: %v", err)
		return nil
	}
	return reporter
}

// build runs the orchestrator for the selected services and writes the manifest.
// consumer, when set, receives the report of a fully successful run.
func build(ctx context.Context, cfg *config.Config, services []*config.Service, consumer orchestrator.Consumer) (*report.RunReport, error) {
	if buildPlatform != "" {
		if _, err := platform.Parse(buildPlatform); err != nil {
			return nil, errors.InvalidConfig("invalid --platform", err)
		}
	}
	tag, err := humanTag(cfg)
	if err != nil {
		return nil, err
	}

	insecure := append(append([]string{}, cfg.InsecureRegistries...), buildInsecureRegistries...)
	pusher := registry.NewClient(docker.LoadConfigCredentials(), registry.WithInsecureRegistries(insecure...))

	sink, flush := newSink()
	m := metrics.New()
	reporter := startEvents(ctx, cfg, len(services))
	if reporter != nil {
		sink = progress.Multi(sink, reporter)
	}

	o := orchestrator.New(newBuilder(), pusher, newResolver())
	rep, runErr := o.Run(ctx, services, orchestrator.Options{
		Repo:         buildRepo,
		Tag:          tag,
		Platform:     buildPlatform,
		Concurrency:  buildConcurrency,
		WorkDir:      cfg.Dir,
		BuildTimeout: buildTimeout,
		Sink:         sink,
		Metrics:      m,
		Consumer:     consumer,
	})
	flush()

	if gateway := os.Getenv(metricsGatewayEnvVar); gateway != "" {
		if err := m.Push(context.WithoutCancel(ctx), gateway, "steiger"); err != nil {
			console.Warnf("%v", err)
		}
	}

	if rep == nil {
		if reporter != nil {
			reporter.Close()
		}
		return nil, runErr
	}

	manifest := report.Render(rep)
	if reporter != nil {
		reporter.Artifacts(manifest)
		reporter.Close()
	}
	if err := writeManifest(ctx, manifest); err != nil {
		return rep, err
	}
	printSummary(rep)

	if failures := rep.Failures(); len(failures) > 0 {
		return rep, errors.BuildFailed(fmt.Sprintf("%d of %d services failed", len(failures), len(services)))
	}
	if runErr != nil {
		if rep.Succeeded() && consumer != nil && ctx.Err() == nil {
			return rep, errors.DeployFailed("deployment failed", runErr)
		}
		return rep, runErr
	}
	return rep, nil
}

func writeManifest(ctx context.Context, m report.Manifest) error {
	if buildOutput == "" {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		console.Output(string(data))
		return nil
	}
	dest := buildOutput
	if !strings.HasPrefix(dest, "s3://") && !filepath.IsAbs(dest) && dirFlag != "" {
		dest = filepath.Join(dirFlag, dest)
	}
	return report.WriteManifest(context.WithoutCancel(ctx), dest, m)
}

func printSummary(rep *report.RunReport) {
	for _, e := range rep.Entries() {
		if e.Failed() {
			console.Errorf("%s (%s) failed after %s: %v", e.Service, e.Backend, console.FormatDuration(e.Duration), e.Err)
			continue
		}
		for _, a := range e.Artifacts {
			console.Infof("%s: %s (%s)", e.Service, a.Ref, a.Status)
		}
	}
}
