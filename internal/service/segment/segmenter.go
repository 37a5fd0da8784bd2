// Package segment groups diarized words into speaker utterances.
package segment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"dialogue-transcriber/internal/models"
)

// Segmenter turns the words of one final result into utterances. The zero value is
// not usable; construct with New.
type Segmenter struct {
	// NewID returns a fresh utterance identifier.
	NewID func() string
	// Now stamps CreatedAt.
	Now func() time.Time
	// Separator is placed between punctuated words in a transcript.
	Separator string
}

// New returns a Segmenter using random UUIDs and the wall clock.
func New() *Segmenter {
	return &Segmenter{
		NewID: uuid.NewString,
		Now:   time.Now,
	}
}

var defaultSegmenter = New()

// Segment groups words with the default Segmenter.
func Segment(words []models.RawWord, names models.SpeakerNames) []models.Utterance {
	return defaultSegmenter.Segment(words, names)
}

// Segment groups maximal runs of consecutive same-speaker words into utterances,
// in input order. Words carrying no text are dropped before grouping; an empty
// result yields no utterances.
func (s *Segmenter) Segment(words []models.RawWord, names models.SpeakerNames) []models.Utterance {
	normalized := Normalize(words)
	if len(normalized) == 0 {
		return nil
	}

	var out []models.Utterance
	runStart := 0
	for i := 1; i <= len(normalized); i++ {
		if i < len(normalized) && normalized[i].SpeakerID == normalized[runStart].SpeakerID {
			continue
		}
		out = append(out, s.build(normalized[runStart:i], names))
		runStart = i
	}
	return out
}

func (s *Segmenter) build(run []models.Word, names models.SpeakerNames) models.Utterance {
	var (
		b    strings.Builder
		conf float64
	)
	for i, w := range run {
		if i > 0 {
			b.WriteString(s.Separator)
		}
		b.WriteString(w.PunctuatedText)
		conf += w.Confidence
	}

	words := make([]models.Word, len(run))
	copy(words, run)

	speaker := run[0].SpeakerID
	return models.Utterance{
		ID:           s.NewID(),
		SpeakerID:    speaker,
		SpeakerLabel: names.Label(speaker),
		Transcript:   b.String(),
		StartSec:     run[0].StartSec,
		EndSec:       run[len(run)-1].EndSec,
		Confidence:   conf / float64(len(run)),
		Words:        words,
		CreatedAt:    s.Now(),
	}
}

// Normalize drops words with neither text form and fills absent fields: each text
// form falls back to the other, start to 0, end to start, confidence to 0 and
// speaker to 0.
func Normalize(words []models.RawWord) []models.Word {
	out := make([]models.Word, 0, len(words))
	for _, raw := range words {
		if raw.Word == "" && raw.PunctuatedWord == "" {
			continue
		}
		w := models.Word{
			Text:           raw.Word,
			PunctuatedText: raw.PunctuatedWord,
		}
		if w.Text == "" {
			w.Text = raw.PunctuatedWord
		}
		if w.PunctuatedText == "" {
			w.PunctuatedText = raw.Word
		}
		if raw.Start != nil {
			w.StartSec = *raw.Start
		}
		w.EndSec = w.StartSec
		if raw.End != nil {
			w.EndSec = *raw.End
		}
		if raw.Confidence != nil {
			w.Confidence = *raw.Confidence
		}
		if raw.Speaker != nil {
			w.SpeakerID = *raw.Speaker
		}
		out = append(out, w)
	}
	return out
}
