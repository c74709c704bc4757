package errors

import (
	"errors"
)

const (
	CodeConfigNotFound = "CONFIG_NOT_FOUND"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeBuildFailed    = "BUILD_FAILED"
	CodeDeployFailed   = "DEPLOY_FAILED"
)

// Exit codes returned by the steiger binary.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

// Types ////////////////////////////////////////

type CodedError interface {
	Code() string
}

type codedError struct {
	code string
	msg  string
	err  error
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *codedError) Code() string {
	return e.code
}

func (e *codedError) Unwrap() error {
	return e.err
}

// Error Creators ///////////////////////////////

// The steiger config was not found
func ConfigNotFound(msg string) error {
	return &codedError{
		code: CodeConfigNotFound,
		msg:  msg,
	}
}

// The config (or a command line value standing in for it) is invalid
func InvalidConfig(msg string, err error) error {
	return &codedError{
		code: CodeInvalidConfig,
		msg:  msg,
		err:  err,
	}
}

// One or more services failed to build or push
func BuildFailed(msg string) error {
	return &codedError{
		code: CodeBuildFailed,
		msg:  msg,
	}
}

// One or more releases failed to deploy
func DeployFailed(msg string, err error) error {
	return &codedError{
		code: CodeDeployFailed,
		msg:  msg,
		err:  err,
	}
}

// Helpers //////////////////////////////////////

func IsConfigNotFound(err error) bool {
	return Code(err) == CodeConfigNotFound
}

// Return the error code, or the empty string
func Code(err error) string {
	var cerr CodedError
	if errors.As(err, &cerr) {
		return cerr.Code()
	}

	return ""
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch Code(err) {
	case CodeConfigNotFound, CodeInvalidConfig:
		return ExitConfig
	default:
		return ExitFailed
	}
}
