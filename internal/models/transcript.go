// Package models defines the data structures for words, utterances and transcript events.
package models

import (
	"fmt"
	"time"
)

// RawWord is a word as delivered by the transcription service. Every field may be
// absent; absent numeric fields decode to nil.
type RawWord struct {
	Word           string   `json:"word"`
	PunctuatedWord string   `json:"punctuated_word"`
	Start          *float64 `json:"start"`
	End            *float64 `json:"end"`
	Confidence     *float64 `json:"confidence"`
	Speaker        *int     `json:"speaker"`
}

// Word is a normalized, timestamped, speaker-labeled word.
type Word struct {
	Text           string  `json:"word"`
	PunctuatedText string  `json:"punctuatedWord"`
	StartSec       float64 `json:"start"`
	EndSec         float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	SpeakerID      int     `json:"speaker"`
}

// Utterance is a maximal run of consecutive words attributed to one speaker.
type Utterance struct {
	ID           string    `json:"id"`
	SpeakerID    int       `json:"speaker"`
	SpeakerLabel string    `json:"speakerLabel"`
	Transcript   string    `json:"transcript"`
	StartSec     float64   `json:"start"`
	EndSec       float64   `json:"end"`
	Confidence   float64   `json:"confidence"`
	Words        []Word    `json:"words"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SpeakerNames maps diarization ids 0 and 1 to display names. It is a value type so
// a snapshot can never be mutated by its producer after hand-off.
type SpeakerNames [2]string

// Default labels used when a speaker has no configured name.
const (
	DefaultSpeaker0 = "Speaker A"
	DefaultSpeaker1 = "Speaker B"
)

// DefaultSpeakerNames returns the fallback display names.
func DefaultSpeakerNames() SpeakerNames {
	return SpeakerNames{DefaultSpeaker0, DefaultSpeaker1}
}

// Label resolves a display label for a speaker id. Ids other than 0 and 1 get a
// generic "Speaker N" label.
func (n SpeakerNames) Label(id int) string {
	switch id {
	case 0:
		if n[0] != "" {
			return n[0]
		}
		return DefaultSpeaker0
	case 1:
		if n[1] != "" {
			return n[1]
		}
		return DefaultSpeaker1
	default:
		return fmt.Sprintf("Speaker %d", id)
	}
}

// Event types carried on published events.
const (
	EventTypePreview    = "transcript.preview"
	EventTypeUtterances = "transcript.utterances"
)

// TranscriptPreview carries the latest interim text. It is replaced by every new
// interim result and is never part of the conversation log.
type TranscriptPreview struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// UtteranceBatch carries the utterances produced from one final result, in order.
type UtteranceBatch struct {
	EventType  string      `json:"eventType"`
	SessionID  string      `json:"sessionId"`
	BatchID    string      `json:"batchId"`
	Timestamp  int64       `json:"timestamp"`
	Utterances []Utterance `json:"utterances"`
}
