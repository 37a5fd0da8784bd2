package segment

import (
	"sync"

	"dialogue-transcriber/internal/models"
)

// Watermark drops words already covered by a previous final result. It tracks the
// latest end time seen and keeps only words ending after it.
//
// Final results from the service are expected not to overlap, so the watermark is
// an opt-in policy for services that resend trailing words.
type Watermark struct {
	mu   sync.Mutex
	last float64
	seen bool
}

// Filter returns the words that end strictly after the watermark and advances it.
func (w *Watermark) Filter(words []models.RawWord) []models.RawWord {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.RawWord, 0, len(words))
	high := w.last
	for _, raw := range words {
		end := wordEnd(raw)
		if w.seen && end <= w.last {
			continue
		}
		out = append(out, raw)
		if end > high {
			high = end
		}
	}
	if len(out) > 0 {
		w.last = high
		w.seen = true
	}
	return out
}

// Reset forgets the watermark, typically at the start of a new recording.
func (w *Watermark) Reset() {
	w.mu.Lock()
	w.last, w.seen = 0, false
	w.mu.Unlock()
}

func wordEnd(raw models.RawWord) float64 {
	switch {
	case raw.End != nil:
		return *raw.End
	case raw.Start != nil:
		return *raw.Start
	default:
		return 0
	}
}
