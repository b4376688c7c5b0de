package models

import "fmt"

// FailureKind classifies a lifecycle failure by the phase that produced it.
type FailureKind string

const (
	ProvisioningFailure    FailureKind = "provisioning failure"
	TimeoutFailure         FailureKind = "timeout failure"
	RemoteExecutionFailure FailureKind = "remote execution failure"
	TeardownIncomplete     FailureKind = "teardown incomplete"
)

// ClusterError is the failure surfaced by cluster lifecycle operations. Its
// rendered form is persisted verbatim on the cluster record.
type ClusterError struct {
	Kind    FailureKind
	Message string
}

func (e *ClusterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewProvisioningError(message string) *ClusterError {
	return &ClusterError{Kind: ProvisioningFailure, Message: message}
}

func NewTimeoutError(message string) *ClusterError {
	return &ClusterError{Kind: TimeoutFailure, Message: message}
}

func NewRemoteExecutionError(message string) *ClusterError {
	return &ClusterError{Kind: RemoteExecutionFailure, Message: message}
}

func NewTeardownIncompleteError(message string) *ClusterError {
	return &ClusterError{Kind: TeardownIncomplete, Message: message}
}
