package epos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/emergency"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/pdo"
	"github.com/samsamfire/eposmaster/pkg/sdo"
)

// ErrorCode is a composite error code. Low bits give the category,
// higher bits the detail. Several categories can be set at once.
type ErrorCode uint32

const NoErrorCode ErrorCode = 0

// Category bits
const (
	MasterErrorBit ErrorCode = 1 << 0
	SDOErrorBit    ErrorCode = 1 << 1
)

// Device error region, any set bit is a device fault
const (
	DeviceCurrent       ErrorCode = 1 << 2
	DeviceVoltage       ErrorCode = 1 << 3
	DeviceTemperature   ErrorCode = 1 << 4
	DeviceCommunication ErrorCode = 1 << 5
	DeviceOther         ErrorCode = 1 << 6
	DeviceErrorMask     ErrorCode = 0x7C
)

// Master error details
const (
	MasterGeneric         = MasterErrorBit | 1<<8
	MasterTimeout         = MasterErrorBit | 1<<9
	MasterWrongState      = MasterErrorBit | 1<<10
	MasterInvalidArgument = MasterErrorBit | 1<<11
	MasterTransport       = MasterErrorBit | 1<<12
	MasterPdoLength       = MasterErrorBit | 1<<13
	MasterBusy            = MasterErrorBit | 1<<14
)

// SDO error details
const (
	SDOAbort    = SDOErrorBit | 1<<16
	SDOTimeout  = SDOErrorBit | 1<<17
	SDOProtocol = SDOErrorBit | 1<<18
)

var codeDescription = []struct {
	code        ErrorCode
	description string
}{
	{DeviceCurrent, "device current"},
	{DeviceVoltage, "device voltage"},
	{DeviceTemperature, "device temperature"},
	{DeviceCommunication, "device communication"},
	{DeviceOther, "device other"},
	{MasterGeneric &^ MasterErrorBit, "generic"},
	{MasterTimeout &^ MasterErrorBit, "timeout"},
	{MasterWrongState &^ MasterErrorBit, "wrong nmt state"},
	{MasterInvalidArgument &^ MasterErrorBit, "invalid argument"},
	{MasterTransport &^ MasterErrorBit, "transport"},
	{MasterPdoLength &^ MasterErrorBit, "pdo length"},
	{MasterBusy &^ MasterErrorBit, "busy"},
	{SDOAbort &^ SDOErrorBit, "sdo abort"},
	{SDOTimeout &^ SDOErrorBit, "sdo timeout"},
	{SDOProtocol &^ SDOErrorBit, "sdo protocol"},
}

func (code ErrorCode) Error() string {
	if code == NoErrorCode {
		return "no error"
	}
	parts := []string{}
	if code&MasterErrorBit != 0 {
		parts = append(parts, "master error")
	}
	if code&SDOErrorBit != 0 {
		parts = append(parts, "sdo error")
	}
	for _, d := range codeDescription {
		if code&d.code != 0 {
			parts = append(parts, d.description)
		}
	}
	return fmt.Sprintf("x%x (%s)", uint32(code), strings.Join(parts, ", "))
}

// Err returns nil for [NoErrorCode] and the code otherwise
func (code ErrorCode) Err() error {
	if code == NoErrorCode {
		return nil
	}
	return code
}

// Category is a set of error categories
type Category uint8

const (
	NoError     Category = 0
	MasterError Category = 1 << 0
	SDOError    Category = 1 << 1
	DeviceError Category = 1 << 2
)

func (c Category) Has(other Category) bool {
	return c&other == other && other != NoError
}

func (c Category) String() string {
	if c == NoError {
		return "none"
	}
	parts := []string{}
	if c.Has(MasterError) {
		parts = append(parts, "master")
	}
	if c.Has(SDOError) {
		parts = append(parts, "sdo")
	}
	if c.Has(DeviceError) {
		parts = append(parts, "device")
	}
	return strings.Join(parts, "|")
}

// Classify returns every category signaled by code
func Classify(code ErrorCode) Category {
	category := NoError
	if code&MasterErrorBit != 0 {
		category |= MasterError
	}
	if code&SDOErrorBit != 0 {
		category |= SDOError
	}
	if code&DeviceErrorMask != 0 {
		category |= DeviceError
	}
	return category
}

// Error returned by [Drive] operations, it keeps the underlying cause
type Error struct {
	Op   string
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil || e.Err == error(e.Code) {
		return fmt.Sprintf("%v : %v", e.Op, e.Code)
	}
	return fmt.Sprintf("%v : %v : %v", e.Op, e.Err, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Code: CodeOf(err), Err: err}
}

// CodeOf maps any error to a composite code, nil gives [NoErrorCode]
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoErrorCode
	}
	var driveErr *Error
	if errors.As(err, &driveErr) {
		return driveErr.Code
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	var abort sdo.Abort
	if errors.As(err, &abort) {
		if abort == sdo.AbortTimeout {
			return SDOTimeout
		}
		return SDOAbort
	}
	switch {
	case errors.Is(err, sdo.ErrProtocol), errors.Is(err, sdo.ErrUnsupportedSize), errors.Is(err, sdo.ErrUnsupportedType):
		return SDOProtocol
	case errors.Is(err, nmt.ErrInvalidTransition):
		return MasterWrongState
	case errors.Is(err, can.ErrNotConnected), errors.Is(err, can.ErrClosed):
		return MasterTransport
	case errors.Is(err, can.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return MasterTimeout
	case errors.Is(err, pdo.ErrValueCount), errors.Is(err, pdo.ErrLengthMismatch), errors.Is(err, pdo.ErrMapLen):
		return MasterPdoLength
	case errors.Is(err, pdo.ErrInvalidSlot), errors.Is(err, pdo.ErrEmptyMapping),
		errors.Is(err, pdo.ErrTooManyEntries), errors.Is(err, pdo.ErrAlignment), errors.Is(err, pdo.ErrUnknownTransmit):
		return MasterInvalidArgument
	}
	return MasterGeneric
}

// DeviceCodeOf maps an emergency error register to device error bits
func DeviceCodeOf(errorRegister uint8) ErrorCode {
	code := NoErrorCode
	if errorRegister&emergency.ErrRegCurrent != 0 {
		code |= DeviceCurrent
	}
	if errorRegister&emergency.ErrRegVoltage != 0 {
		code |= DeviceVoltage
	}
	if errorRegister&emergency.ErrRegTemperature != 0 {
		code |= DeviceTemperature
	}
	if errorRegister&emergency.ErrRegCommunication != 0 {
		code |= DeviceCommunication
	}
	if errorRegister&(emergency.ErrRegGeneric|emergency.ErrRegDevProfile|emergency.ErrRegManufacturer) != 0 {
		code |= DeviceOther
	}
	return code
}
