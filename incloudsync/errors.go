package incloudsync

import "fmt"

// RemoteAuthError means the remote CRM rejected our credentials. It is fatal
// for the enclosing run.
type RemoteAuthError struct {
	Status int
	Body   string
}

func (e *RemoteAuthError) Error() string {
	return fmt.Sprintf("incloud auth failed (%d): %s", e.Status, e.Body)
}

// RemoteClientError is a non-retryable remote failure: a 4xx other than 401,
// or a transient error that exhausted its retries.
type RemoteClientError struct {
	Status int
	Body   string
}

func (e *RemoteClientError) Error() string {
	return fmt.Sprintf("incloud api error %d: %s", e.Status, e.Body)
}

// MappingError means a payload violated the mapper's field contract. The
// record is skipped with the reason; it never aborts the run.
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping failed on %s: %s", e.Field, e.Reason)
}
