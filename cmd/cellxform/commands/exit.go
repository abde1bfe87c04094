package commands

import (
	"errors"

	"github.com/cellxform/cellxform/pkg/config"
	"github.com/cellxform/cellxform/pkg/model"
	"github.com/cellxform/cellxform/pkg/policy"
)

// Process exit codes.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitInvalidInput      = 2
	ExitNotFound          = 3
	ExitInterfaceMismatch = 4
	ExitUnreachable       = 5
	ExitConflict          = 6
	ExitStructural        = 7
	ExitPolicyDenied      = 8
)

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		return ExitPolicyDenied
	}

	switch model.ClassOf(err) {
	case model.ErrorClassNotFound:
		return ExitNotFound
	case model.ErrorClassInterfaceMismatch:
		return ExitInterfaceMismatch
	case model.ErrorClassUnreachable:
		return ExitUnreachable
	case model.ErrorClassConflict:
		return ExitConflict
	case model.ErrorClassStructural:
		return ExitStructural
	}

	var invalid config.ValidationErrors
	if errors.As(err, &invalid) {
		return ExitInvalidInput
	}

	return ExitFailure
}
