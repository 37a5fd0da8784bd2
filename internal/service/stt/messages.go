package stt

import (
	"encoding/json"

	"dialogue-transcriber/internal/models"
)

// Kind classifies an inbound message.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindError
	KindInterim
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindInterim:
		return "interim"
	case KindFinal:
		return "final"
	default:
		return "unrecognized"
	}
}

// Inbound is a decoded service message. Exactly one of the kind-specific fields is
// meaningful: Description for KindError, Transcript and Words for KindInterim and
// KindFinal.
type Inbound struct {
	Kind        Kind
	Description string
	Transcript  string
	Words       []models.RawWord
}

type envelope struct {
	Type        string   `json:"type"`
	Description *string  `json:"description"`
	Message     *string  `json:"message"`
	IsFinal     bool     `json:"is_final"`
	Channel     *channel `json:"channel"`
}

type channel struct {
	Alternatives []alternative `json:"alternatives"`
}

type alternative struct {
	Transcript string           `json:"transcript"`
	Words      []models.RawWord `json:"words"`
}

const unknownErrorText = "unknown error"

// Decode classifies a text frame. Malformed JSON, unknown types and results without
// alternatives decode as KindUnrecognized and are expected to be ignored.
func Decode(data []byte) Inbound {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{Kind: KindUnrecognized}
	}

	switch env.Type {
	case "Error":
		desc := unknownErrorText
		if env.Description != nil && *env.Description != "" {
			desc = *env.Description
		} else if env.Message != nil && *env.Message != "" {
			desc = *env.Message
		}
		return Inbound{Kind: KindError, Description: desc}

	case "Results":
		if env.Channel == nil || len(env.Channel.Alternatives) == 0 {
			return Inbound{Kind: KindUnrecognized}
		}
		alt := env.Channel.Alternatives[0]
		kind := KindInterim
		if env.IsFinal {
			kind = KindFinal
		}
		return Inbound{Kind: kind, Transcript: alt.Transcript, Words: alt.Words}

	default:
		return Inbound{Kind: KindUnrecognized}
	}
}

type controlMessage struct {
	Type string `json:"type"`
}

func control(t string) []byte {
	b, _ := json.Marshal(controlMessage{Type: t})
	return b
}

// KeepAlive returns the idle keepalive control frame.
func KeepAlive() []byte { return control("KeepAlive") }

// CloseStream returns the end-of-audio control frame.
func CloseStream() []byte { return control("CloseStream") }
