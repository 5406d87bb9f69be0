package session

import (
	"sync"
	"time"
)

// PlaybackNotifier observes physical playback transitions. It is invoked
// exactly once per transition; redundant updates to an unchanged state are
// suppressed before it is called.
type PlaybackNotifier func(active bool)

// Playback tracks whether synthesized audio is audible on the client. Both
// ends report into it: the client via tts_start/tts_stop control messages
// and via the playback-active bit on captured frames.
type Playback struct {
	mu            sync.Mutex
	active        bool
	suppressUntil time.Time
	notify        PlaybackNotifier
}

// NewPlayback creates a playback tracker. notify may be nil.
func NewPlayback(notify PlaybackNotifier) *Playback {
	return &Playback{notify: notify}
}

// Active reports whether playback is currently considered audible.
func (p *Playback) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// SetActive records a playback transition. Returns true only when the state
// physically changed; repeated reports of the same state are no-ops.
// Transitions reported while suppression is in effect are dropped, so an
// intentional interruption is not re-read as a stop/start flicker.
func (p *Playback) SetActive(active bool) bool {
	p.mu.Lock()
	if p.active == active {
		p.mu.Unlock()
		return false
	}
	if time.Now().Before(p.suppressUntil) {
		p.mu.Unlock()
		return false
	}
	p.active = active
	notify := p.notify
	p.mu.Unlock()

	if notify != nil {
		notify(active)
	}
	return true
}

// Interrupt forces playback inactive regardless of suppression, then
// suppresses further reported transitions for the given window.
func (p *Playback) Interrupt(suppress time.Duration) {
	p.mu.Lock()
	changed := p.active
	p.active = false
	p.suppressUntil = time.Now().Add(suppress)
	notify := p.notify
	p.mu.Unlock()

	if changed && notify != nil {
		notify(false)
	}
}

// Suppressed reports whether the post-interruption window is still open.
func (p *Playback) Suppressed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.suppressUntil)
}
