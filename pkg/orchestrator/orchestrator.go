// Package orchestrator builds and pushes every service of a run concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steigerbuild/steiger/pkg/builder"
	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/global"
	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/metrics"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/registry"
	"github.com/steigerbuild/steiger/pkg/report"
	"github.com/steigerbuild/steiger/pkg/util/console"
)

// Builder builds one service. *builder.Set implements it.
type Builder interface {
	Build(ctx context.Context, bctx *builder.Context) ([]*image.Image, error)
}

// Pusher makes an image exist in a registry. *registry.Client implements it.
type Pusher interface {
	EnsurePushed(ctx context.Context, img *image.Image, repo string, opts registry.Options) (*registry.PushOutcome, error)
}

// PlatformResolver picks the platform of one service. *platform.Resolver implements it.
type PlatformResolver interface {
	Resolve(ctx context.Context, explicit string) (platform.Platform, platform.Source, error)
}

// Consumer receives the frozen report of a fully successful run, e.g. a deployer.
type Consumer interface {
	Consume(ctx context.Context, r *report.RunReport) error
}

// Options control one run.
type Options struct {
	// Repo is the destination repository prefix. Empty means build only.
	Repo string
	// Tag is the human tag applied to every image. Empty means "latest" for
	// services with a single artifact and digest references otherwise.
	Tag string
	// Platform is the explicit platform for services without their own override.
	Platform string
	// Insecure forces plain HTTP for Repo.
	Insecure bool
	// Concurrency bounds in-flight services. Zero means unbounded.
	Concurrency int
	// WorkDir is the directory service paths are relative to.
	WorkDir string
	// BuildTimeout bounds each service's build. Zero means no timeout.
	BuildTimeout time.Duration

	Sink     progress.Sink
	Metrics  *metrics.Metrics
	Consumer Consumer
}

type Orchestrator struct {
	builder  Builder
	pusher   Pusher
	resolver PlatformResolver
}

func New(b Builder, p Pusher, r PlatformResolver) *Orchestrator {
	return &Orchestrator{builder: b, pusher: p, resolver: r}
}

// Run builds every service and, when opts.Repo is set, pushes what the
// registry doesn't already have. The returned report always holds one entry
// per service. The error is non-nil only when nothing could be dispatched,
// the run was canceled, or the consumer failed; service failures live in
// the report.
func (o *Orchestrator) Run(ctx context.Context, services []*config.Service, opts Options) (*report.RunReport, error) {
	if err := preflight(services, opts); err != nil {
		return nil, err
	}

	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	rep := report.New(names)

	scratch, err := os.MkdirTemp("", "steiger-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	results := make(chan report.Entry)

	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	go func() {
		for _, svc := range services {
			g.Go(func() error {
				results <- o.runService(ctx, svc, opts, scratch)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for entry := range results {
		if err := rep.Record(entry); err != nil {
			// Every unit owns a distinct service, so this is a programming error.
			console.Errorf("recording %s: %v", entry.Service, err)
		}
	}
	if err := rep.Freeze(); err != nil {
		return rep, err
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if opts.Consumer != nil && rep.Succeeded() {
		if err := opts.Consumer.Consume(ctx, rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// preflight rejects runs that cannot start: duplicate services and
// malformed explicit platforms.
func preflight(services []*config.Service, opts Options) error {
	seen := map[string]bool{}
	for _, s := range services {
		if seen[s.Name] {
			return fmt.Errorf("service %s is listed twice", s.Name)
		}
		seen[s.Name] = true
		if s.Platform != "" {
			if _, err := platform.Parse(s.Platform); err != nil {
				return err
			}
		}
	}
	if opts.Platform != "" {
		if _, err := platform.Parse(opts.Platform); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runService(ctx context.Context, svc *config.Service, opts Options, scratch string) (entry report.Entry) {
	p := progress.For(opts.Sink, svc.Name)
	start := time.Now()
	kind := svc.Build.Kind()
	entry = report.Entry{Service: svc.Name, Backend: kind}

	defer func() {
		if r := recover(); r != nil {
			entry.Artifacts = nil
			entry.Err = &builder.BuildError{Service: svc.Name, Backend: kind, Cause: fmt.Errorf("panic: %v", r)}
		}
		entry.Duration = time.Since(start)
		if entry.Err != nil {
			p.Fail(entry.Err)
		} else {
			p.Finish("done in %s", console.FormatDuration(entry.Duration))
		}
	}()

	if err := ctx.Err(); err != nil {
		entry.Err = fmt.Errorf("not started: %w", err)
		return entry
	}

	explicit := svc.Platform
	if explicit == "" {
		explicit = opts.Platform
	}
	plat, source, err := o.resolver.Resolve(ctx, explicit)
	if err != nil {
		entry.Err = err
		return entry
	}

	outDir, err := os.MkdirTemp(scratch, svc.Name+"-")
	if err != nil {
		entry.Err = &builder.BuildError{Service: svc.Name, Backend: kind, Cause: err}
		return entry
	}
	// Images read their blobs from outDir lazily, so it lives until pushing is done.
	defer os.RemoveAll(outDir)

	p.Start("building %s for %s (%s)", kind, plat, source)
	images, err := o.build(ctx, &builder.Context{
		Service:  svc,
		Platform: plat,
		WorkDir:  opts.WorkDir,
		OutDir:   outDir,
		Progress: p,
	}, opts.BuildTimeout)
	opts.Metrics.RecordBuild(kind.String(), outcome(err), time.Since(start))
	if err != nil {
		entry.Err = err
		return entry
	}

	tag := humanTag(svc, opts.Tag)
	for _, img := range images {
		artifact, err := o.publish(ctx, img, tag, opts, p)
		if err != nil {
			entry.Err = err
			return entry
		}
		entry.Artifacts = append(entry.Artifacts, artifact)
	}
	return entry
}

func (o *Orchestrator) build(ctx context.Context, bctx *builder.Context, timeout time.Duration) ([]*image.Image, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.builder.Build(ctx, bctx)
}

func (o *Orchestrator) publish(ctx context.Context, img *image.Image, tag string, opts Options, p *progress.Service) (report.Artifact, error) {
	if opts.Repo == "" {
		return report.Artifact{
			ImageName: img.Name,
			Ref:       report.ImageRef{Repository: img.Name, Tag: tag, Digest: img.Digest.String()},
			Status:    report.StatusBuilt,
		}, nil
	}

	p.Logf(console.InfoLevel, "checking %s for %s", opts.Repo, img.Digest)
	out, err := o.pusher.EnsurePushed(ctx, img, opts.Repo, registry.Options{
		Tag:      tag,
		Insecure: opts.Insecure,
		Progress: p,
	})
	if err != nil {
		opts.Metrics.RecordPush(metrics.OutcomeFailure)
		return report.Artifact{}, err
	}

	status := report.StatusPushed
	if out.Status == registry.Skipped {
		status = report.StatusSkipped
		p.Logf(console.InfoLevel, "%s already in registry, skipped push", img.Name)
	} else {
		p.Logf(console.InfoLevel, "pushed %s", img.Name)
	}
	opts.Metrics.RecordPush(string(out.Status))

	return report.Artifact{
		ImageName: img.Name,
		Ref:       report.ImageRef{Repository: out.Reference, Tag: out.Tag, Digest: out.Digest.String()},
		Status:    status,
	}, nil
}

// humanTag is the tag shown in the manifest for svc's images.
func humanTag(svc *config.Service, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if len(svc.Artifacts()) == 1 {
		return global.DefaultTag
	}
	return ""
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailure
	}
}
