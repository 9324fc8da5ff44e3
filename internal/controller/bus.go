package controller

import (
	"sync"

	"github.com/turtacn/ertviz/internal/plot"
)

type EventType string

const (
	EventOptionsChanged EventType = "options_changed"
	EventValueChanged   EventType = "value_changed"
	EventFigureChanged  EventType = "figure_changed"
)

// Event is a session state change.
type Event interface {
	Type() EventType
	Session() string
}

type OptionsChanged struct {
	SessionID string           `json:"session_id"`
	Options   []ResponseOption `json:"options"`
}

func (e OptionsChanged) Type() EventType { return EventOptionsChanged }
func (e OptionsChanged) Session() string { return e.SessionID }

type ValueChanged struct {
	SessionID string        `json:"session_id"`
	Value     SelectorValue `json:"value"`
}

func (e ValueChanged) Type() EventType { return EventValueChanged }
func (e ValueChanged) Session() string { return e.SessionID }

// FigureChanged carries the new figure.  Rebuilt is false when only the
// selection changed.
type FigureChanged struct {
	SessionID  string      `json:"session_id"`
	EnsembleID string      `json:"ensemble_id"`
	Response   string      `json:"response"`
	Figure     plot.Figure `json:"figure"`
	Selection  []string    `json:"selection"`
	Rebuilt    bool        `json:"rebuilt"`
}

func (e FigureChanged) Type() EventType { return EventFigureChanged }
func (e FigureChanged) Session() string { return e.SessionID }

// Handler receives published events.  It runs on the publisher's goroutine
// and must not call back into the Controller.
type Handler func(Event)

// Bus is an in-process, synchronous event bus.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	h  Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns a func that removes it.  The returned
// func is safe to call more than once.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every subscriber in subscription order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(ev)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
