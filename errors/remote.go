package errors

import (
	"fmt"
	"strings"
)

// SerializedError is the wire form of an error crossing the process
// boundary between the training scheduler and a worker.
type SerializedError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// Serialize flattens err into its message and verbose (stack-carrying) form
func Serialize(err error) SerializedError {
	if err == nil {
		return SerializedError{}
	}
	return SerializedError{
		Message: err.Error(),
		Stack:   fmt.Sprintf("%+v", err),
	}
}

// Deserialize reconstitutes a remote error in the caller's context.
// The remote stack is kept as a detail so it shows up in verbose output.
func Deserialize(s SerializedError) error {
	msg := s.Message
	if msg == "" {
		msg = "unknown remote error"
	}
	err := New(msg)
	if stack := strings.TrimSpace(s.Stack); stack != "" {
		err = WithDetail(err, "remote stack:\n"+stack)
	}
	return err
}
