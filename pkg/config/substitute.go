package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Vars is the table ${name} references in build and deploy fields resolve against.
type Vars map[string]string

// EnvironmentVars returns the process environment as Vars.
func EnvironmentVars() Vars {
	vars := Vars{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}

// Merge returns a copy of v overlaid with other.
func (v Vars) Merge(other Vars) Vars {
	out := Vars{}
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		out[k] = val
	}
	return out
}

// Expand replaces every ${name} in s. Unknown names are reported, not left in place.
func (v Vars) Expand(s string) (string, error) {
	var missing []string
	out := variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		val, ok := v[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variable %s", strings.Join(missing, ", "))
	}
	return out, nil
}

type substituter struct {
	vars   Vars
	result *problems
}

func (s *substituter) str(field string, value *string) {
	expanded, err := s.vars.Expand(*value)
	if err != nil {
		s.result.add(&ValidationError{Field: field, Value: *value, Message: err.Error()})
		return
	}
	*value = expanded
}

func (s *substituter) stringMap(field string, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m[k]
		s.str(field+"."+k, &v)
		m[k] = v
	}
}

// substitute expands variables in place across every build and deploy field.
func substitute(cfg *configFile, vars Vars, result *problems) {
	s := &substituter{vars: vars, result: result}

	for name, svc := range cfg.Services {
		if svc == nil || svc.Build == nil {
			continue
		}
		b := svc.Build
		field := "services." + name + ".build"
		s.str(field+".context", &b.Context)
		s.str(field+".dockerfile", &b.Dockerfile)
		s.stringMap(field+".buildArgs", b.BuildArgs)
		s.stringMap(field+".hosts", b.Hosts)
		s.stringMap(field+".targets", b.Targets)
		s.str(field+".importPath", &b.ImportPath)
		s.str(field+".flake", &b.Flake)
		s.stringMap(field+".packages", b.Packages)
	}

	for name, rel := range cfg.Deploy {
		if rel == nil {
			continue
		}
		field := "deploy." + name
		s.str(field+".path", &rel.Path)
		s.str(field+".namespace", &rel.Namespace)
		s.stringMap(field+".values", rel.Values)
		for i := range rel.ValuesFiles {
			s.str(fmt.Sprintf("%s.valuesFiles[%d]", field, i), &rel.ValuesFiles[i])
		}
	}
}
