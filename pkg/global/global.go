package global

import (
	"time"
)

var (
	Version        = "0.0.1"
	BuildTime      = "none"
	Verbose        = false
	ConfigFilename = "steiger.yml"
	// BuilderName is the buildx instance shared by every context build.
	BuilderName    = "steiger"
	BuilderDriver  = "docker-container"
	DefaultTag     = "latest"
	PingTimeout    = 5 * time.Second
	ClusterTimeout = 3 * time.Second
)
