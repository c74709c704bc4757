package config

// configFile mirrors steiger.yml as written. It is schema-validated and then
// converted to Config.
type configFile struct {
	Services           map[string]*serviceFile `json:"services,omitempty" yaml:"services"`
	Deploy             map[string]*releaseFile `json:"deploy,omitempty" yaml:"deploy,omitempty"`
	InsecureRegistries []string                `json:"insecureRegistries,omitempty" yaml:"insecureRegistries,omitempty"`
}

type serviceFile struct {
	Build    *buildFile `json:"build" yaml:"build"`
	Platform string     `json:"platform,omitempty" yaml:"platform,omitempty"`
}

type buildFile struct {
	Type string `json:"type" yaml:"type"`

	Context    string            `json:"context,omitempty" yaml:"context,omitempty"`
	Dockerfile string            `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
	BuildArgs  map[string]string `json:"buildArgs,omitempty" yaml:"buildArgs,omitempty"`
	Hosts      map[string]string `json:"hosts,omitempty" yaml:"hosts,omitempty"`

	Targets   map[string]string `json:"targets,omitempty" yaml:"targets,omitempty"`
	Platforms map[string]string `json:"platforms,omitempty" yaml:"platforms,omitempty"`

	ImportPath string `json:"importPath,omitempty" yaml:"importPath,omitempty"`

	Flake    string            `json:"flake,omitempty" yaml:"flake,omitempty"`
	Packages map[string]string `json:"packages,omitempty" yaml:"packages,omitempty"`
}

type releaseFile struct {
	Type        string            `json:"type" yaml:"type"`
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Timeout     string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Values      map[string]string `json:"values,omitempty" yaml:"values,omitempty"`
	ValuesFiles []string          `json:"valuesFiles,omitempty" yaml:"valuesFiles,omitempty"`
}

func (b *buildFile) toBuild() Build {
	switch BuildKind(b.Type) {
	case KindDocker:
		return NewDockerBuild(DockerBuild{
			Context:    b.Context,
			Dockerfile: b.Dockerfile,
			BuildArgs:  b.BuildArgs,
			Hosts:      b.Hosts,
		})
	case KindBazel:
		return NewBazelBuild(BazelBuild{Targets: b.Targets, Platforms: b.Platforms})
	case KindKo:
		return NewKoBuild(KoBuild{ImportPath: b.ImportPath})
	case KindNix:
		return NewNixBuild(NixBuild{Flake: b.Flake, Packages: b.Packages})
	default:
		return Build{}
	}
}
