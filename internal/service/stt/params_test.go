package stt

import (
	"net/url"
	"strings"
	"testing"
)

func TestParams_Primary(t *testing.T) {
	v := DefaultParams().Primary()

	want := map[string]string{
		"model":            "nova-3",
		"language":         "ja",
		"diarize":          "true",
		"punctuate":        "true",
		"smart_format":     "true",
		"interim_results":  "true",
		"endpointing":      "300",
		"utterance_end_ms": "1000",
		"encoding":         "linear16",
		"sample_rate":      "16000",
		"channels":         "1",
	}
	for k, w := range want {
		if got := v.Get(k); got != w {
			t.Errorf("%s: expected %q, got %q", k, w, got)
		}
	}
	if len(v) != len(want) {
		t.Errorf("expected %d parameters, got %d: %v", len(want), len(v), v)
	}
}

func TestParams_SafeOmitsOptionalFeatures(t *testing.T) {
	v := DefaultParams().Safe()

	for _, k := range []string{"diarize", "smart_format", "endpointing", "utterance_end_ms"} {
		if v.Has(k) {
			t.Errorf("safe parameters should not include %s", k)
		}
	}
	for _, k := range []string{"model", "interim_results", "punctuate", "encoding", "sample_rate", "channels"} {
		if !v.Has(k) {
			t.Errorf("safe parameters missing %s", k)
		}
	}
}

func TestParams_LanguageOptional(t *testing.T) {
	p := DefaultParams()
	p.Language = ""
	if p.Primary().Has("language") {
		t.Error("empty language should be omitted")
	}
}

func TestBuildURL(t *testing.T) {
	raw, err := BuildURL("wss://api.example.com/v1/listen", "tok-123", DefaultParams().Values(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("result not a URL: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "api.example.com" || u.Path != "/v1/listen" {
		t.Errorf("unexpected base: %s", raw)
	}
	if got := u.Query().Get("token"); got != "tok-123" {
		t.Errorf("expected token tok-123, got %q", got)
	}
	if got := u.Query().Get("model"); got != "nova-3" {
		t.Errorf("expected model nova-3, got %q", got)
	}
}

func TestBuildURL_Errors(t *testing.T) {
	tests := []string{
		"https://api.example.com/v1/listen",
		"://bad",
	}
	for _, endpoint := range tests {
		if _, err := BuildURL(endpoint, "tok", url.Values{}); err == nil {
			t.Errorf("expected error for %q", endpoint)
		}
	}
}

func TestBuildURL_EscapesToken(t *testing.T) {
	raw, err := BuildURL("ws://localhost:1234/listen", "a b&c", url.Values{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(raw, "token=a+b%26c") {
		t.Errorf("token not escaped: %s", raw)
	}
}
