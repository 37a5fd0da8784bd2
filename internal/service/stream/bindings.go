package stream

import (
	"sync/atomic"

	"dialogue-transcriber/internal/models"
)

// Sink is the caller-owned context a session reports into. Callbacks run on the
// session's control loop and must not block.
type Sink struct {
	Speakers     models.SpeakerNames
	OnUtterances func([]models.Utterance)
	OnPreview    func(string)
	OnStatus     func(Status)
}

// Bindings holds the current Sink. Updates replace the whole snapshot atomically,
// so the control loop always sees a consistent set of names and callbacks.
type Bindings struct {
	cur atomic.Pointer[Sink]
}

// NewBindings creates Bindings holding s.
func NewBindings(s Sink) *Bindings {
	b := &Bindings{}
	b.cur.Store(&s)
	return b
}

// Load returns the current snapshot.
func (b *Bindings) Load() Sink {
	if s := b.cur.Load(); s != nil {
		return *s
	}
	return Sink{}
}

// Replace swaps in a new snapshot.
func (b *Bindings) Replace(s Sink) {
	b.cur.Store(&s)
}

// Update applies fn to a copy of the current snapshot and installs the result,
// retrying if another update raced it.
func (b *Bindings) Update(fn func(*Sink)) {
	for {
		old := b.cur.Load()
		next := Sink{}
		if old != nil {
			next = *old
		}
		fn(&next)
		if b.cur.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SetSpeakers replaces the speaker names, keeping the callbacks.
func (b *Bindings) SetSpeakers(names models.SpeakerNames) {
	b.Update(func(s *Sink) { s.Speakers = names })
}
