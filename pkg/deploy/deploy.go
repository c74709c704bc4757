// Package deploy rolls out releases using the images of a build manifest.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/report"
	"github.com/steigerbuild/steiger/pkg/util/console"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// Deployer rolls out one kind of release.
type Deployer interface {
	Validate(ctx context.Context, release *config.Release) error
	Deploy(ctx context.Context, release *config.Release, m report.Manifest, p *progress.Service) error
}

// MetaDeployer dispatches each release to the deployer for its kind.
type MetaDeployer struct {
	releases []*config.Release
	runner   shell.Runner
	dir      string
	sink     progress.Sink

	helm Deployer
}

func NewMetaDeployer(runner shell.Runner, cfg *config.Config, sink progress.Sink) *MetaDeployer {
	return &MetaDeployer{releases: cfg.Releases, runner: runner, dir: cfg.Dir, sink: sink}
}

func (d *MetaDeployer) deployerFor(release *config.Release) (Deployer, error) {
	switch {
	case release.Helm != nil:
		if d.helm == nil {
			d.helm = NewHelmDeployer(d.runner, d.dir)
		}
		return d.helm, nil
	default:
		return nil, fmt.Errorf("release %s has no deployment method", release.Name)
	}
}

// Validate checks every release can be deployed before any of them is.
func (d *MetaDeployer) Validate(ctx context.Context) error {
	console.Debug("validating releases")
	for _, r := range d.releases {
		dep, err := d.deployerFor(r)
		if err != nil {
			return err
		}
		if err := dep.Validate(ctx, r); err != nil {
			return fmt.Errorf("release %s: %w", r.Name, err)
		}
	}
	return nil
}

// Deploy rolls out every release concurrently and returns all failures joined.
func (d *MetaDeployer) Deploy(ctx context.Context, m report.Manifest) error {
	if len(d.releases) == 0 {
		console.Info("no releases to deploy")
		return nil
	}

	start := time.Now()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range d.releases {
		dep, err := d.deployerFor(r)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := progress.For(d.sink, r.Name)
			if err := dep.Deploy(ctx, r, m, p); err != nil {
				err = fmt.Errorf("release %s: %w", r.Name, err)
				p.Fail(err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			p.Finish("deployed")
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	console.Infof("deployment completed in %s", console.FormatDuration(time.Since(start)))
	return nil
}

// Consume validates and deploys using the rendered manifest of a successful run.
func (d *MetaDeployer) Consume(ctx context.Context, r *report.RunReport) error {
	if err := d.Validate(ctx); err != nil {
		return err
	}
	return d.Deploy(ctx, report.Render(r))
}
