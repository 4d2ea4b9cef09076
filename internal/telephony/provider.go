package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// Request is one call placement.
type Request struct {
	PhoneNumber string
	Prompt      string
	EntryID     uuid.UUID
	CampaignID  *uuid.UUID
	Attempt     int
}

// Result is returned when the provider accepted the call.
type Result struct {
	DispatchID string
	Duration   time.Duration
}

// Dispatcher abstracts the call placement service.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Result, error)
}

// ErrorKind classifies dispatch failures.
type ErrorKind string

const (
	KindInvalid   ErrorKind = "invalid"
	KindTransient ErrorKind = "transient"
	KindRejected  ErrorKind = "rejected"
)

// DispatchError is the error returned by every Dispatcher. It matches apperrors.ErrDispatch.
type DispatchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("dispatch %s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the sentinel and the cause.
func (e *DispatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperrors.ErrDispatch}
	}
	return []error{apperrors.ErrDispatch, e.Err}
}

// Invalid reports input the provider will never accept.
func Invalid(msg string) error {
	return &DispatchError{Kind: KindInvalid, Message: msg}
}

// Rejected reports a provider refusal.
func Rejected(msg string) error {
	return &DispatchError{Kind: KindRejected, Message: msg}
}

// Transient reports a failure that may succeed later.
func Transient(msg string, cause error) error {
	return &DispatchError{Kind: KindTransient, Message: msg, Err: cause}
}

// KindOf classifies any error coming out of a dispatch call. Unclassified errors,
// timeouts included, are transient.
func KindOf(err error) ErrorKind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}
