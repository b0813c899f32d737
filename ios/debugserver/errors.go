package debugserver

import (
	"errors"
	"fmt"
)

var (
	// ErrImageNotFound means no on-device binary, toolchain image or fallback image was found.
	ErrImageNotFound = errors.New("debugserver: no debugserver on device and no DeveloperDiskImage found")
	// ErrUnsupportedVersion is returned for iOS versions that cannot be provisioned from this host.
	ErrUnsupportedVersion = errors.New("debugserver: unsupported iOS version for this host")
	// ErrMountFailed is returned when attaching a disk image exits non-zero.
	ErrMountFailed = errors.New("debugserver: mounting disk image failed")
	// ErrDetachFailed is returned when detaching a mounted disk image fails.
	ErrDetachFailed = errors.New("debugserver: detaching disk image failed")
	// ErrProvisionStepFailed is wrapped by every ProvisionStepError.
	ErrProvisionStepFailed = errors.New("debugserver: provisioning step failed")
	// ErrLaunchFailed means the remote output ended before debugserver reported it is listening.
	ErrLaunchFailed = errors.New("debugserver: exited before listening")
)

// ProvisionStepError reports which provisioning step failed.
type ProvisionStepError struct {
	Step     int
	Name     string
	ExitCode int
	Err      error
}

func (e *ProvisionStepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("debugserver: provisioning step %d (%s) failed: %v", e.Step, e.Name, e.Err)
	}
	return fmt.Sprintf("debugserver: provisioning step %d (%s) exited with %d", e.Step, e.Name, e.ExitCode)
}

// Unwrap allows errors.Is against ErrProvisionStepFailed and the underlying cause.
func (e *ProvisionStepError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvisionStepFailed}
	}
	return []error{ErrProvisionStepFailed, e.Err}
}
