package http

import (
	"fmt"

	"github.com/steigerbuild/steiger/pkg/global"
)

const UserAgentHeader = "User-Agent"

func UserAgent() string {
	return fmt.Sprintf("steiger/%s", global.Version)
}
