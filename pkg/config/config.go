package config

import (
	"sort"
	"time"
)

// BuildKind names the backend a service is built with.
type BuildKind string

const (
	// KindDocker is a context build: a Dockerfile and a build context, built with buildx.
	KindDocker BuildKind = "docker"
	// KindBazel is a query build: bazel targets whose outputs are OCI layouts.
	KindBazel BuildKind = "bazel"
	// KindKo is a package build: a Go package built into an image by ko.
	KindKo BuildKind = "ko"
	// KindNix is a declarative build: flake packages that evaluate to images.
	KindNix BuildKind = "nix"
)

// Kinds lists every build kind.
var Kinds = []BuildKind{KindDocker, KindBazel, KindKo, KindNix}

func (k BuildKind) String() string {
	return string(k)
}

// Config is a loaded and validated steiger.yml.
type Config struct {
	// Filename is the path the config was read from.
	Filename string
	// Dir is the directory relative paths are resolved against.
	Dir string

	// Services ordered by name.
	Services           []*Service
	Releases           []*Release
	InsecureRegistries []string
}

// Service is one independently buildable unit.
type Service struct {
	Name string
	// Platform overrides the run's platform for this service when set.
	Platform string
	Build    Build
}

// Artifacts returns the artifact names the service produces, sorted.
// Docker and ko builds produce a single artifact named after the service.
func (s *Service) Artifacts() []string {
	var names []string
	switch s.Build.Kind() {
	case KindBazel:
		names = keys(s.Build.bazel.Targets)
	case KindNix:
		names = keys(s.Build.nix.Packages)
	default:
		return []string{s.Name}
	}
	return names
}

// ImageName is the published name of artifact: the service name when the
// service has one artifact, "{service}-{artifact}" otherwise.
func (s *Service) ImageName(artifact string) string {
	if len(s.Artifacts()) <= 1 {
		return s.Name
	}
	return s.Name + "-" + artifact
}

// ImageNames returns the published names of every artifact.
func (s *Service) ImageNames() []string {
	artifacts := s.Artifacts()
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = s.ImageName(a)
	}
	return names
}

// Build is a tagged union over the four backends. The variant is fixed when
// the value is constructed.
type Build struct {
	kind   BuildKind
	docker *DockerBuild
	bazel  *BazelBuild
	ko     *KoBuild
	nix    *NixBuild
}

type DockerBuild struct {
	// Context is the build context directory.
	Context string
	// Dockerfile defaults to Dockerfile inside Context.
	Dockerfile string
	BuildArgs  map[string]string
	// Hosts are extra /etc/hosts entries, host name to IP.
	Hosts map[string]string
}

type BazelBuild struct {
	// Targets maps artifact name to bazel label.
	Targets map[string]string
	// Platforms maps steiger platforms ("linux/amd64") to bazel platform labels.
	Platforms map[string]string
}

type KoBuild struct {
	ImportPath string
}

type NixBuild struct {
	Flake string
	// Packages maps artifact name to the attribute path under packages.<system>.
	Packages map[string]string
}

func NewDockerBuild(b DockerBuild) Build {
	if b.Context == "" {
		b.Context = "."
	}
	return Build{kind: KindDocker, docker: &b}
}

func NewBazelBuild(b BazelBuild) Build {
	return Build{kind: KindBazel, bazel: &b}
}

func NewKoBuild(b KoBuild) Build {
	if b.ImportPath == "" {
		b.ImportPath = "."
	}
	return Build{kind: KindKo, ko: &b}
}

func NewNixBuild(b NixBuild) Build {
	if b.Flake == "" {
		b.Flake = "."
	}
	return Build{kind: KindNix, nix: &b}
}

func (b Build) Kind() BuildKind {
	return b.kind
}

// Docker returns the docker variant, or nil for other kinds.
func (b Build) Docker() *DockerBuild {
	return b.docker
}

// Bazel returns the bazel variant, or nil for other kinds.
func (b Build) Bazel() *BazelBuild {
	return b.bazel
}

// Ko returns the ko variant, or nil for other kinds.
func (b Build) Ko() *KoBuild {
	return b.ko
}

// Nix returns the nix variant, or nil for other kinds.
func (b Build) Nix() *NixBuild {
	return b.nix
}

// Release is a deployment consuming the build manifest.
type Release struct {
	Name string
	Helm *HelmRelease
}

type HelmRelease struct {
	// Path is the chart directory.
	Path        string
	Namespace   string
	Timeout     time.Duration
	Values      map[string]string
	ValuesFiles []string
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
