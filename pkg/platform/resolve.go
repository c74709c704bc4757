package platform

import (
	"context"
	"sync"
)

// Source records which rule picked a platform.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceCluster  Source = "cluster"
	SourceHost     Source = "host"
)

// Resolve applies the precedence explicit > cluster hint > host default.
// Only a malformed explicit value is an error; an empty explicit value or a
// nil hint simply falls through.
func Resolve(explicit string, clusterHint *Platform, host Platform) (Platform, Source, error) {
	if explicit != "" {
		p, err := Parse(explicit)
		if err != nil {
			return Platform{}, SourceExplicit, err
		}
		return p, SourceExplicit, nil
	}
	if clusterHint != nil {
		return *clusterHint, SourceCluster, nil
	}
	return host, SourceHost, nil
}

// Detector asks a deployment target which platform it runs.
// A nil platform with a nil error means the target isn't configured.
type Detector interface {
	Detect(ctx context.Context) (*Platform, error)
}

// Resolver resolves platforms for a run. The cluster is asked at most once.
type Resolver struct {
	Detector Detector
	Host     Platform
	// Notify receives informational messages, e.g. an unreachable cluster.
	Notify func(msg string)

	once sync.Once
	hint *Platform
}

func NewResolver(detector Detector, notify func(string)) *Resolver {
	return &Resolver{Detector: detector, Host: Host(), Notify: notify}
}

// Resolve picks the platform for one service. explicit is the most specific
// explicit value available, a per-service override or the global flag.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (Platform, Source, error) {
	if explicit != "" {
		return Resolve(explicit, nil, r.Host)
	}
	return Resolve("", r.clusterHint(ctx), r.Host)
}

func (r *Resolver) clusterHint(ctx context.Context) *Platform {
	r.once.Do(func() {
		if r.Detector == nil {
			return
		}
		hint, err := r.Detector.Detect(ctx)
		if err != nil {
			r.notify("cluster platform unavailable, using host platform " + r.Host.String() + ": " + err.Error())
			return
		}
		if hint != nil {
			r.notify("using cluster platform " + hint.String())
		}
		r.hint = hint
	})
	return r.hint
}

func (r *Resolver) notify(msg string) {
	if r.Notify != nil {
		r.Notify(msg)
	}
}
