package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	require.Equal(t, ExitOK, ExitCode(nil))
	require.Equal(t, ExitConfig, ExitCode(ConfigNotFound("no steiger.yml")))
	require.Equal(t, ExitConfig, ExitCode(fmt.Errorf("loading: %w", InvalidConfig("bad platform", errors.New("x")))))
	require.Equal(t, ExitFailed, ExitCode(BuildFailed("2 services failed")))
	require.Equal(t, ExitFailed, ExitCode(errors.New("boom")))
}

func TestCodedErrorUnwraps(t *testing.T) {
	cause := errors.New("helm exited 1")
	err := DeployFailed("deploy failed", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, "deploy failed: helm exited 1", err.Error())
	require.True(t, IsConfigNotFound(fmt.Errorf("wrap: %w", ConfigNotFound("missing"))))
}
