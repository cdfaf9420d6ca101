package client

import "fmt"

// OperationError wraps a failed request/response operation against the
// remote service. Operations are never retried by the client; retry policy
// belongs to the caller.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("remote operation %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Err: err}
}
