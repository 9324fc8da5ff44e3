package controller

import (
	"sync"
	"time"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/internal/plot"
)

// Session is the per-browser controller state.  Handlers hold mu for their
// whole run, so inputs of one session are applied one at a time.
type Session struct {
	id string

	mu        sync.Mutex
	ensembles map[string]*ensemble.Ensemble
	model     *plot.EnsemblePlotModel
	query     string
	options   []ResponseOption
	value     SelectorValue
	selection []string
	lastUsed  time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:        id,
		ensembles: make(map[string]*ensemble.Ensemble),
		options:   []ResponseOption{},
		lastUsed:  now,
	}
}

func (s *Session) ID() string { return s.id }

// Options returns a copy of the current response options.
func (s *Session) Options() []ResponseOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ResponseOption{}, s.options...)
}

func (s *Session) Value() SelectorValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Model returns the current plot model, nil before the first build.
func (s *Session) Model() *plot.EnsemblePlotModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Ensemble returns a held ensemble.
func (s *Session) Ensemble(id string) (*ensemble.Ensemble, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ensembles[id]
	return e, ok
}

func (s *Session) stateLocked(now time.Time) State {
	return State{
		SessionID: s.id,
		Query:     s.query,
		Value:     s.value,
		Selection: append([]string(nil), s.selection...),
		UpdatedAt: now,
	}
}

func (s *Session) figureLocked() *plot.Figure {
	if s.model == nil {
		return nil
	}
	f := s.model.Repr()
	return &f
}

func (s *Session) figureEventLocked(rebuilt bool) FigureChanged {
	return FigureChanged{
		SessionID:  s.id,
		EnsembleID: s.model.EnsembleID,
		Response:   s.model.Response,
		Figure:     s.model.Repr(),
		Selection:  s.model.Selection(),
		Rebuilt:    rebuilt,
	}
}
