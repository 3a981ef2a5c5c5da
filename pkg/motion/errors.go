package motion

import (
	"errors"
	"fmt"

	"github.com/samsamfire/eposmaster/pkg/epos"
)

var (
	ErrConfigurationFailed = errors.New("pdo configuration failed")
	ErrMotionTimeout       = errors.New("target not reached in time")
	ErrDriveFault          = errors.New("drive reported a fault during motion")
	ErrFailed              = errors.New("orchestrator failed, reset required")
	ErrStage               = errors.New("operation not allowed in current stage")
	ErrNoAcknowledge       = errors.New("set-point not acknowledged")
)

// ConfigurationError carries the OR of every code returned while
// configuring PDOs. It matches [ErrConfigurationFailed] with errors.Is.
type ConfigurationError struct {
	Code epos.ErrorCode
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v : %v", ErrConfigurationFailed, e.Code)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfigurationFailed
}

func (e *ConfigurationError) Unwrap() error {
	return e.Code
}

// codeOf extends [epos.CodeOf] with the orchestrator's own errors
func codeOf(err error) epos.ErrorCode {
	switch {
	case err == nil:
		return epos.NoErrorCode
	case errors.Is(err, ErrMotionTimeout), errors.Is(err, ErrNoAcknowledge):
		return epos.MasterTimeout
	case errors.Is(err, ErrDriveFault):
		return epos.DeviceOther
	case errors.Is(err, ErrFailed), errors.Is(err, ErrStage):
		return epos.MasterWrongState
	}
	return epos.CodeOf(err)
}
