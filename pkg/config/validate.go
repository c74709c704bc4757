package config

import (
	// blank import for embeds
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/steigerbuild/steiger/pkg/platform"
)

//go:embed data/config_schema.json
var schema []byte

// Service and artifact names become registry path components.
var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// validateConfigFile checks a configFile for errors.
// Returns all validation errors. Does not mutate the input.
func validateConfigFile(cfg *configFile) *problems {
	result := &problems{}

	if err := validateSchema(cfg); err != nil {
		result.add(err)
		// Semantic checks assume the shape the schema guarantees.
		return result
	}

	validateServices(cfg, result)
	validateReleases(cfg, result)

	return result
}

func validateSchema(cfg *configFile) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(cfg)

	validationResult, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return &SchemaError{Field: "(root)", Message: err.Error()}
	}

	if !validationResult.Valid() {
		return getMostSpecificSchemaError(validationResult.Errors())
	}

	return nil
}

func validateServices(cfg *configFile, result *problems) {
	imageOwners := map[string]string{}

	for _, name := range sortedKeys(cfg.Services) {
		svc := cfg.Services[name]
		field := "services." + name

		if !namePattern.MatchString(name) {
			result.add(&ValidationError{
				Field:   "service name",
				Value:   name,
				Message: "must be lowercase letters, digits and single separators (. _ -)",
			})
		}

		if svc.Platform != "" {
			if _, err := platform.Parse(svc.Platform); err != nil {
				result.add(&ValidationError{Field: field + ".platform", Value: svc.Platform, Message: err.Error()})
			}
		}

		b := svc.Build
		switch BuildKind(b.Type) {
		case KindDocker, KindKo:
		case KindBazel:
			validateArtifactNames(field+".build.targets", b.Targets, result)
			for _, p := range sortedKeys(b.Platforms) {
				if _, err := platform.Parse(p); err != nil {
					result.add(&ValidationError{Field: field + ".build.platforms", Value: p, Message: err.Error()})
				}
			}
		case KindNix:
			validateArtifactNames(field+".build.packages", b.Packages, result)
		default:
			result.add(&ValidationError{Field: field + ".build.type", Value: b.Type, Message: "unknown build type"})
			continue
		}

		service := &Service{Name: name, Build: b.toBuild()}
		for _, image := range service.ImageNames() {
			if owner, ok := imageOwners[image]; ok {
				result.add(&ValidationError{
					Field:   field,
					Value:   image,
					Message: fmt.Sprintf("image name is also produced by service %s", owner),
				})
				continue
			}
			imageOwners[image] = name
		}
	}
}

func validateArtifactNames(field string, artifacts map[string]string, result *problems) {
	for _, artifact := range sortedKeys(artifacts) {
		if !namePattern.MatchString(artifact) {
			result.add(&ValidationError{
				Field:   field,
				Value:   artifact,
				Message: "artifact names must be lowercase letters, digits and single separators (. _ -)",
			})
		}
	}
}

func validateReleases(cfg *configFile, result *problems) {
	for _, name := range sortedKeys(cfg.Deploy) {
		rel := cfg.Deploy[name]
		if rel.Timeout != "" {
			if _, err := time.ParseDuration(rel.Timeout); err != nil {
				result.add(&ValidationError{Field: "deploy." + name + ".timeout", Value: rel.Timeout, Message: "must be a duration such as 5m"})
			}
		}
	}
}

func getMostSpecificSchemaError(errors []gojsonschema.ResultError) *SchemaError {
	if len(errors) == 0 {
		return &SchemaError{Field: "(unknown)", Message: "unknown schema error"}
	}

	mostSpecific := 0
	for i, err := range errors {
		if schemaErrorSpecificity(err) > schemaErrorSpecificity(errors[mostSpecific]) {
			mostSpecific = i
		} else if schemaErrorSpecificity(err) == schemaErrorSpecificity(errors[mostSpecific]) {
			// Invalid type errors win in a tie-breaker
			if err.Type() == "invalid_type" && errors[mostSpecific].Type() != "invalid_type" {
				mostSpecific = i
			}
		}
	}

	err := errors[mostSpecific]
	field := err.Field()
	if field == "(root)" {
		field = "steiger.yml"
	}

	return &SchemaError{
		Field:   field,
		Message: getSchemaErrorDescription(err),
	}
}

func getSchemaErrorDescription(err gojsonschema.ResultError) string {
	switch err.Type() {
	case "invalid_type":
		if expectedType, ok := err.Details()["expected"].(string); ok {
			return fmt.Sprintf("must be a %s", humanReadableSchemaType(expectedType))
		}
	case "additional_property_not_allowed":
		if property, ok := err.Details()["property"].(string); ok {
			return fmt.Sprintf("%s is not allowed here", property)
		}
	}
	return err.Description()
}

// humanReadableSchemaType converts JSON schema type names to human-readable names.
func humanReadableSchemaType(definition string) string {
	switch definition {
	case "object":
		return "mapping"
	case "array":
		return "list"
	default:
		return definition
	}
}

// schemaErrorSpecificity returns how specific a schema error is based on field depth.
func schemaErrorSpecificity(err gojsonschema.ResultError) int {
	return len(strings.Split(err.Field(), "."))
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
