package stream

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindSetup - microphone acquisition failed. Not retried.
	KindSetup
	// KindCredential - the authorization boundary refused or failed. Not retried.
	KindCredential
	// KindProtocol - the service sent an error or closed with a rejection code.
	KindProtocol
	// KindTransient - a retryable disconnect. Status only, cleared on reconnect.
	KindTransient
	// KindRetryExhausted - reconnect attempts ran out.
	KindRetryExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSetup:
		return "setup"
	case KindCredential:
		return "credential"
	case KindProtocol:
		return "protocol"
	case KindTransient:
		return "transient"
	case KindRetryExhausted:
		return "retry_exhausted"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText renders the kind name in JSON.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind := KindNone; kind <= KindRetryExhausted; kind++ {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

// IsFatal reports whether the kind ends the session.
func (k ErrorKind) IsFatal() bool {
	return k != KindNone && k != KindTransient
}

// SessionError is a classified session failure or transient status.
type SessionError struct {
	Kind    ErrorKind
	Code    int    // socket close code, when one applies
	Reason  string // close reason or service description
	Attempt int    // reconnect attempt, for transient disconnects
	Err     error
}

func (e *SessionError) Error() string {
	switch e.Kind {
	case KindSetup:
		return fmt.Sprintf("microphone initialization failed; check input permissions: %v", e.Err)
	case KindCredential:
		return fmt.Sprintf("failed to obtain streaming credential: %v", e.Err)
	case KindProtocol:
		if e.Code != 0 {
			return fmt.Sprintf("transcription service rejected the connection (code=%d%s)", e.Code, reasonSuffix(e.Reason))
		}
		return fmt.Sprintf("transcription service error: %s", e.Reason)
	case KindTransient:
		if e.Attempt == 0 {
			return fmt.Sprintf("connection failed; retrying with reduced settings (code=%d%s)", e.Code, reasonSuffix(e.Reason))
		}
		return fmt.Sprintf("connection lost; reconnecting (%d) [code=%d%s]", e.Attempt, e.Code, reasonSuffix(e.Reason))
	case KindRetryExhausted:
		return fmt.Sprintf("connection is unstable; restart recording manually (code=%d%s)", e.Code, reasonSuffix(e.Reason))
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "session error"
	}
}

func (e *SessionError) Unwrap() error { return e.Err }

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " reason=" + reason
}

// KindOf returns the kind of a *SessionError in err's chain, or KindNone.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindNone
}

// Errors returned by Session calls.
var (
	ErrNotRunning = errors.New("session loop is not running")
)
