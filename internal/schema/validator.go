// Package schema validates outgoing transcript events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"dialogue-transcriber/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks a preview or utterance batch. Other types are rejected.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptPreview:
		return v.validatePreview(ev)
	case *models.TranscriptPreview:
		return v.validatePreview(*ev)
	case models.UtteranceBatch:
		return v.validateBatch(ev)
	case *models.UtteranceBatch:
		return v.validateBatch(*ev)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func (v *Validator) validatePreview(ev models.TranscriptPreview) error {
	if ev.EventType != models.EventTypePreview {
		return invalid("eventType %q", ev.EventType)
	}
	if ev.SessionID == "" {
		return invalid("missing sessionId")
	}
	if ev.Timestamp <= 0 {
		return invalid("missing timestamp")
	}
	return nil
}

func (v *Validator) validateBatch(ev models.UtteranceBatch) error {
	if ev.EventType != models.EventTypeUtterances {
		return invalid("eventType %q", ev.EventType)
	}
	if ev.SessionID == "" {
		return invalid("missing sessionId")
	}
	if ev.BatchID == "" {
		return invalid("missing batchId")
	}
	if ev.Timestamp <= 0 {
		return invalid("missing timestamp")
	}
	if len(ev.Utterances) == 0 {
		return invalid("batch has no utterances")
	}
	for i, u := range ev.Utterances {
		if err := validateUtterance(u); err != nil {
			return fmt.Errorf("utterance %d: %w", i, err)
		}
		// Adjacent utterances always change speaker.
		if i > 0 && ev.Utterances[i-1].SpeakerID == u.SpeakerID {
			return invalid("utterances %d and %d share speaker %d", i-1, i, u.SpeakerID)
		}
	}
	return nil
}

func validateUtterance(u models.Utterance) error {
	switch {
	case u.ID == "":
		return invalid("missing id")
	case u.SpeakerLabel == "":
		return invalid("missing speakerLabel")
	case strings.TrimSpace(u.Transcript) == "":
		return invalid("empty transcript")
	case u.StartSec > u.EndSec:
		return invalid("start %.3f after end %.3f", u.StartSec, u.EndSec)
	case u.Confidence < 0 || u.Confidence > 1:
		return invalid("confidence %.3f out of range", u.Confidence)
	}
	for j, w := range u.Words {
		if w.SpeakerID != u.SpeakerID {
			return invalid("word %d has speaker %d, utterance has %d", j, w.SpeakerID, u.SpeakerID)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}
