// Package stream runs one live transcription session: credential fetch, socket
// connection, audio forwarding, result dispatch, safe-mode fallback, bounded
// reconnection and teardown.
package stream

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateIdle - No session. Entered initially and after a manual stop.
	StateIdle State = iota
	// StateCredentialFetch - Requesting a short-lived credential.
	StateCredentialFetch
	// StateConnecting - Socket handshake in progress.
	StateConnecting
	// StateStreaming - Socket open, audio flowing, results dispatched.
	StateStreaming
	// StateClosing - Manual stop in progress.
	StateClosing
	// StateSafeModeRetry - First connection failed; retrying with reduced parameters.
	StateSafeModeRetry
	// StateReconnecting - Waiting out the reconnect delay.
	StateReconnecting
	// StateFatal - Terminal until the next start. The error stays visible.
	StateFatal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCredentialFetch:
		return "CREDENTIAL_FETCH"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateSafeModeRetry:
		return "SAFE_MODE_RETRY"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateFatal; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// IsActive returns true while a session holds or is acquiring resources.
func (s State) IsActive() bool {
	return s != StateIdle && s != StateFatal
}

// IsTerminal returns true for states that only a new start can leave.
func (s State) IsTerminal() bool {
	return s == StateIdle || s == StateFatal
}

// ErrInvalidTransition is returned when an event does not apply to the current state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Phase is the complete state-machine value. SafeMode and Attempt only carry
// meaning alongside the states that use them; transitions reset them where they
// stop applying.
//
// State transitions:
//
//	IDLE ──Start──→ CREDENTIAL_FETCH ──ok──→ CONNECTING ──open──→ STREAMING
//	                      │                      │                   │
//	                      └──fail──→ FATAL       └────close──┬───────┘
//	                                                         ├─ never streamed, primary ─→ SAFE_MODE_RETRY ─→ CONNECTING
//	                                                         ├─ fatal code ──────────────→ FATAL
//	                                                         ├─ attempts left ───────────→ RECONNECTING ─→ CREDENTIAL_FETCH | CONNECTING
//	                                                         └─ attempts exhausted ──────→ FATAL
//
//	any active state ──Stop──→ CLOSING ──→ IDLE
//	FATAL ──Start──→ CREDENTIAL_FETCH
type Phase struct {
	State    State
	SafeMode bool
	Attempt  int
}

// CloseOutcome explains the state chosen after a socket close.
type CloseOutcome int

const (
	OutcomeSafeMode CloseOutcome = iota
	OutcomeRejected
	OutcomeReconnect
	OutcomeExhausted
)

// Start begins a new session with the primary parameters.
func (p Phase) Start() (Phase, error) {
	if p.State.IsActive() {
		return p, fmt.Errorf("%w: start from %s", ErrInvalidTransition, p.State)
	}
	return Phase{State: StateCredentialFetch}, nil
}

// CredentialReady moves from credential fetch to connecting.
func (p Phase) CredentialReady() (Phase, error) {
	if p.State != StateCredentialFetch {
		return p, fmt.Errorf("%w: credential ready in %s", ErrInvalidTransition, p.State)
	}
	p.State = StateConnecting
	return p, nil
}

// Open records a successful socket open. The reconnect counter resets.
func (p Phase) Open() (Phase, error) {
	if p.State != StateConnecting {
		return p, fmt.Errorf("%w: open in %s", ErrInvalidTransition, p.State)
	}
	p.State = StateStreaming
	p.Attempt = 0
	return p, nil
}

// Close decides what follows an unexpected socket close (or failed dial).
//
// Until the session has streamed once, a close on the primary parameters falls
// back to safe mode exactly once. Otherwise fatal codes end the session, and
// retryable codes reconnect until maxAttempts is reached.
func (p Phase) Close(fatalCode, everStreamed bool, maxAttempts int) (Phase, CloseOutcome, error) {
	if p.State != StateConnecting && p.State != StateStreaming {
		return p, 0, fmt.Errorf("%w: close in %s", ErrInvalidTransition, p.State)
	}

	switch {
	case !everStreamed && !p.SafeMode:
		return Phase{State: StateSafeModeRetry, SafeMode: true}, OutcomeSafeMode, nil
	case fatalCode:
		p.State = StateFatal
		return p, OutcomeRejected, nil
	case p.Attempt < maxAttempts:
		p.State = StateReconnecting
		p.Attempt++
		return p, OutcomeReconnect, nil
	default:
		p.State = StateFatal
		return p, OutcomeExhausted, nil
	}
}

// Retry leaves a waiting state. needCredential selects whether a fresh credential
// must be fetched first.
func (p Phase) Retry(needCredential bool) (Phase, error) {
	if p.State != StateReconnecting && p.State != StateSafeModeRetry {
		return p, fmt.Errorf("%w: retry in %s", ErrInvalidTransition, p.State)
	}
	if needCredential {
		p.State = StateCredentialFetch
	} else {
		p.State = StateConnecting
	}
	return p, nil
}

// Stop begins a manual stop.
func (p Phase) Stop() (Phase, error) {
	if !p.State.IsActive() || p.State == StateClosing {
		return p, fmt.Errorf("%w: stop in %s", ErrInvalidTransition, p.State)
	}
	return Phase{State: StateClosing}, nil
}

// Stopped completes a manual stop.
func (p Phase) Stopped() (Phase, error) {
	if p.State != StateClosing {
		return p, fmt.Errorf("%w: stopped in %s", ErrInvalidTransition, p.State)
	}
	return Phase{State: StateIdle}, nil
}

// Fail enters the fatal state from any active state.
func (p Phase) Fail() (Phase, error) {
	if !p.State.IsActive() {
		return p, fmt.Errorf("%w: fail in %s", ErrInvalidTransition, p.State)
	}
	p.State = StateFatal
	return p, nil
}
