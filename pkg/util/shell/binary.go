package shell

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/steigerbuild/steiger/pkg/util/files"
)

// BinaryEnvVar is the variable overriding the binary used for tool, e.g. STEIGER_DOCKER_BINARY.
func BinaryEnvVar(tool string) string {
	return "STEIGER_" + strings.ToUpper(strings.ReplaceAll(tool, "-", "_")) + "_BINARY"
}

// Binary returns the executable to run for tool. The override variable wins, then
// the first of candidates found on PATH. The first candidate is returned when none
// is found so the eventual error names the expected tool.
func Binary(tool string, candidates ...string) string {
	if bin := os.Getenv(BinaryEnvVar(tool)); bin != "" {
		return bin
	}
	if len(candidates) == 0 {
		candidates = []string{tool}
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return candidates[0]
}

// RequireBinary is Binary with an explicit error when nothing is installed.
func RequireBinary(tool string, candidates ...string) (string, error) {
	bin := Binary(tool, candidates...)
	if strings.ContainsRune(bin, os.PathSeparator) {
		if !files.IsExecutable(bin) {
			return "", fmt.Errorf("%s at %s is not executable, check %s", tool, bin, BinaryEnvVar(tool))
		}
		return bin, nil
	}
	if _, err := exec.LookPath(bin); err != nil {
		return "", fmt.Errorf("%s not found, install it or set %s: %w", tool, BinaryEnvVar(tool), err)
	}
	return bin, nil
}
