package platform

import "fmt"

var nixSystems = map[Platform]string{
	LinuxAMD64: "x86_64-linux",
	LinuxARM64: "aarch64-linux",
}

// NixSystem maps p to the nix system double packages are evaluated for.
func NixSystem(p Platform) (string, error) {
	system, ok := nixSystems[p]
	if !ok {
		return "", fmt.Errorf("platform %s has no nix system", p)
	}
	return system, nil
}
