package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClientGone is returned by operations on a connection that has
	// already disconnected.
	ErrClientGone = errors.New("client disconnected")

	ErrEmptyContainerID = errors.New("container id is required")
	ErrNoRuntime        = errors.New("no container runtime available")
)

// AttachError reports that an exec session could not be opened for a
// container. It is sent to the client as an error event.
type AttachError struct {
	ContainerID string
	Err         error
}

func (e *AttachError) Error() string {
	if e.ContainerID == "" {
		return fmt.Sprintf("attach: %v", e.Err)
	}
	return fmt.Sprintf("attach %s: %v", e.ContainerID, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }
