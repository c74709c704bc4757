// Package platform resolves the OS/architecture pair images are built for.
package platform

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/containerd/platforms"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// Platform is a target OS and CPU architecture. Two platforms are the same
// target exactly when both fields are equal.
type Platform struct {
	OS           string
	Architecture string
}

var (
	LinuxAMD64   = Platform{OS: "linux", Architecture: "amd64"}
	LinuxARM64   = Platform{OS: "linux", Architecture: "arm64"}
	LinuxARM     = Platform{OS: "linux", Architecture: "arm"}
	Linux386     = Platform{OS: "linux", Architecture: "386"}
	LinuxPPC64LE = Platform{OS: "linux", Architecture: "ppc64le"}
	LinuxS390X   = Platform{OS: "linux", Architecture: "s390x"}
	LinuxRISCV64 = Platform{OS: "linux", Architecture: "riscv64"}
)

// Supported is the closed set of platforms steiger builds for.
var Supported = []Platform{LinuxAMD64, LinuxARM64, LinuxARM, Linux386, LinuxPPC64LE, LinuxS390X, LinuxRISCV64}

func (p Platform) String() string {
	return p.OS + "/" + p.Architecture
}

// IsZero reports whether p is unset.
func (p Platform) IsZero() bool {
	return p == Platform{}
}

// OCI converts p to the image-spec representation.
func (p Platform) OCI() specs.Platform {
	return specs.Platform{OS: p.OS, Architecture: p.Architecture}
}

// ResolutionError reports an explicitly given platform that can't be used.
type ResolutionError struct {
	Value  string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("invalid platform %q: %s", e.Value, e.Reason)
}

// Parse reads an "os/arch" string. Architecture aliases such as aarch64 or
// x86_64 are normalised. Variants are accepted and dropped.
func Parse(s string) (Platform, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		return Platform{}, &ResolutionError{Value: s, Reason: "expected os/arch"}
	}
	spec, err := platforms.Parse(s)
	if err != nil {
		return Platform{}, &ResolutionError{Value: s, Reason: err.Error()}
	}
	p := FromOCI(spec)
	if !IsSupported(p) {
		return Platform{}, &ResolutionError{Value: s, Reason: "unsupported platform, expected one of " + supportedList()}
	}
	return p, nil
}

// FromOCI normalises an image-spec platform.
func FromOCI(spec specs.Platform) Platform {
	spec = platforms.Normalize(spec)
	return Platform{OS: spec.OS, Architecture: spec.Architecture}
}

// Normalize builds a Platform from raw os and arch strings.
func Normalize(os, arch string) Platform {
	return FromOCI(specs.Platform{OS: os, Architecture: arch})
}

func IsSupported(p Platform) bool {
	for _, s := range Supported {
		if s == p {
			return true
		}
	}
	return false
}

// Host is the platform of the machine running steiger. Images are always
// Linux images, so only the architecture is taken from the host.
func Host() Platform {
	return hostFor(runtime.GOARCH)
}

func hostFor(goarch string) Platform {
	spec := platforms.Normalize(specs.Platform{OS: "linux", Architecture: goarch})
	return Platform{OS: "linux", Architecture: spec.Architecture}
}

func supportedList() string {
	names := make([]string, len(Supported))
	for i, p := range Supported {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}
