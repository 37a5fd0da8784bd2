package stt

import (
	"fmt"
	"net/url"
	"strconv"
)

// Params are the recognition settings sent as query parameters.
type Params struct {
	Model          string
	Language       string
	EndpointingMs  int
	UtteranceEndMs int
	SampleRate     int
	Channels       int
	Encoding       string
}

// DefaultParams returns the settings used for live conversation capture.
func DefaultParams() Params {
	return Params{
		Model:          "nova-3",
		Language:       "ja",
		EndpointingMs:  300,
		UtteranceEndMs: 1000,
		SampleRate:     16000,
		Channels:       1,
		Encoding:       "linear16",
	}
}

// Primary returns the full parameter set: diarization, punctuation, smart
// formatting, interim results and endpointing.
func (p Params) Primary() url.Values {
	v := p.base()
	v.Set("diarize", "true")
	v.Set("punctuate", "true")
	v.Set("smart_format", "true")
	v.Set("interim_results", "true")
	v.Set("endpointing", strconv.Itoa(p.EndpointingMs))
	v.Set("utterance_end_ms", strconv.Itoa(p.UtteranceEndMs))
	return v
}

// Safe returns the reduced set used when the primary set fails to establish a
// session: model, interim results, punctuation and audio format only.
func (p Params) Safe() url.Values {
	v := p.base()
	v.Set("interim_results", "true")
	v.Set("punctuate", "true")
	return v
}

// Values returns the safe or primary set.
func (p Params) Values(safeMode bool) url.Values {
	if safeMode {
		return p.Safe()
	}
	return p.Primary()
}

func (p Params) base() url.Values {
	v := url.Values{}
	v.Set("model", p.Model)
	if p.Language != "" {
		v.Set("language", p.Language)
	}
	v.Set("encoding", p.Encoding)
	v.Set("sample_rate", strconv.Itoa(p.SampleRate))
	v.Set("channels", strconv.Itoa(p.Channels))
	return v
}

// BuildURL appends values and the credential token to endpoint.
func BuildURL(endpoint, token string, values url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("endpoint %q: scheme must be ws or wss", endpoint)
	}

	q := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
