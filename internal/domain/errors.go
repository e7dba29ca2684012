package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownAnswerID  = errors.New("unknown answer id")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
	ErrAuthorityDenied  = errors.New("master authority denied")
	ErrEngineStopped    = errors.New("relay engine stopped")
	ErrGroupNotFound    = errors.New("group not found")
)

// MalformedMessageError describes why an inbound frame was rejected.
type MalformedMessageError struct {
	Missing []string
	Cause   error
}

func (e *MalformedMessageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrMalformedMessage, e.Cause)
	}
	return fmt.Sprintf("%s: missing %s", ErrMalformedMessage, strings.Join(e.Missing, ", "))
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Cause
}

func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}
