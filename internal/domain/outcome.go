package domain

import (
	"errors"
	"fmt"
)

// ErrNotRegistered means the normalized address has no account on the messaging service.
var ErrNotRegistered = errors.New("recipient is not registered")

// ErrGroupNotFound is matched by GroupNotFoundError via errors.Is.
var ErrGroupNotFound = errors.New("group not found")

// GroupNotFoundError carries the name that failed to resolve.
type GroupNotFoundError struct {
	Name string
}

func (e *GroupNotFoundError) Error() string {
	return fmt.Sprintf("no group found with name: %s", e.Name)
}

func (e *GroupNotFoundError) Is(target error) bool { return target == ErrGroupNotFound }

// OutcomeKind classifies the terminal state of a dispatch.
type OutcomeKind string

const (
	OutcomeSuccess                OutcomeKind = "success"
	OutcomeRecipientNotRegistered OutcomeKind = "recipient_not_registered"
	OutcomeGroupNotFound          OutcomeKind = "group_not_found"
	OutcomeValidationFailed       OutcomeKind = "validation_failed"
	OutcomeTransportError         OutcomeKind = "transport_error"
)

// Outcome is the single result of one dispatched request.
type Outcome struct {
	Kind    OutcomeKind
	Payload any               // OutcomeSuccess
	Group   string            // OutcomeGroupNotFound: the requested name
	Errors  map[string]string // OutcomeValidationFailed
	Err     error             // OutcomeTransportError
}

// Success wraps the session's response payload.
func Success(payload any) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload}
}

// NotRegistered is the outcome for an address without an account.
func NotRegistered() Outcome {
	return Outcome{Kind: OutcomeRecipientNotRegistered}
}

// GroupNotFound is the outcome for a name lookup miss.
func GroupNotFound(name string) Outcome {
	return Outcome{Kind: OutcomeGroupNotFound, Group: name}
}

// ValidationFailed carries the field-keyed reasons. errs must not be empty.
func ValidationFailed(errs map[string]string) Outcome {
	return Outcome{Kind: OutcomeValidationFailed, Errors: errs}
}

// TransportError wraps a session or network failure.
func TransportError(err error) Outcome {
	return Outcome{Kind: OutcomeTransportError, Err: err}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }
