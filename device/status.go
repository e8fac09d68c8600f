package device

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is a device-layer result code. Values follow the OpenCL numbering so
// that codes reported by any backend read the same in logs.
type Status int

const (
	Success                    Status = 0
	DeviceNotFound             Status = -1
	MemObjectAllocationFailure Status = -4
	OutOfResources             Status = -5
	OutOfHostMemory            Status = -6
	ProfilingInfoNotAvailable  Status = -7
	BuildProgramFailure        Status = -11
	ExecStatusError            Status = -14
	InvalidValue               Status = -30
	InvalidDevice              Status = -33
	InvalidContext             Status = -34
	InvalidCommandQueue        Status = -36
	InvalidHostPtr             Status = -37
	InvalidMemObject           Status = -38
	InvalidKernelName          Status = -46
	InvalidKernel              Status = -48
	InvalidArgIndex            Status = -49
	InvalidArgValue            Status = -50
	InvalidArgSize             Status = -51
	InvalidKernelArgs          Status = -52
	InvalidWorkGroupSize       Status = -54
	InvalidEventWaitList       Status = -57
	InvalidEvent               Status = -58
	InvalidOperation           Status = -59
	InvalidBufferSize          Status = -61
	InvalidGlobalWorkSize      Status = -63
)

var statusNames = map[Status]string{
	Success:                    "CL_SUCCESS",
	DeviceNotFound:             "CL_DEVICE_NOT_FOUND",
	MemObjectAllocationFailure: "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	OutOfResources:             "CL_OUT_OF_RESOURCES",
	OutOfHostMemory:            "CL_OUT_OF_HOST_MEMORY",
	ProfilingInfoNotAvailable:  "CL_PROFILING_INFO_NOT_AVAILABLE",
	BuildProgramFailure:        "CL_BUILD_PROGRAM_FAILURE",
	ExecStatusError:            "CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",
	InvalidValue:               "CL_INVALID_VALUE",
	InvalidDevice:              "CL_INVALID_DEVICE",
	InvalidContext:             "CL_INVALID_CONTEXT",
	InvalidCommandQueue:        "CL_INVALID_COMMAND_QUEUE",
	InvalidHostPtr:             "CL_INVALID_HOST_PTR",
	InvalidMemObject:           "CL_INVALID_MEM_OBJECT",
	InvalidKernelName:          "CL_INVALID_KERNEL_NAME",
	InvalidKernel:              "CL_INVALID_KERNEL",
	InvalidArgIndex:            "CL_INVALID_ARG_INDEX",
	InvalidArgValue:            "CL_INVALID_ARG_VALUE",
	InvalidArgSize:             "CL_INVALID_ARG_SIZE",
	InvalidKernelArgs:          "CL_INVALID_KERNEL_ARGS",
	InvalidWorkGroupSize:       "CL_INVALID_WORK_GROUP_SIZE",
	InvalidEventWaitList:       "CL_INVALID_EVENT_WAIT_LIST",
	InvalidEvent:               "CL_INVALID_EVENT",
	InvalidOperation:           "CL_INVALID_OPERATION",
	InvalidBufferSize:          "CL_INVALID_BUFFER_SIZE",
	InvalidGlobalWorkSize:      "CL_INVALID_GLOBAL_WORK_SIZE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CL_STATUS(%d)", int(s))
}

// Error is a failed device call: the status code and a short operation tag
type Error struct {
	Status Status
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed: %s (%d): %s", e.Op, e.Status, int(e.Status), e.Detail)
	}
	return fmt.Sprintf("%s failed: %s (%d)", e.Op, e.Status, int(e.Status))
}

// Fail returns a device error with a stack trace attached
func Fail(status Status, op string) error {
	return errors.WithStack(&Error{Status: status, Op: op})
}

// Failf is Fail with a formatted detail message
func Failf(status Status, op, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Status: status, Op: op, Detail: fmt.Sprintf(format, args...)})
}

// StatusOf extracts the device status carried by err. A nil error is
// Success; an error from outside the device layer reports InvalidOperation.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Status
	}
	return InvalidOperation
}

// IsStatus reports whether err carries the given status
func IsStatus(err error, status Status) bool {
	return err != nil && StatusOf(err) == status
}
