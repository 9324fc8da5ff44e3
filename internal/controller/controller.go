package controller

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/pkg/errors"
)

// QueryEnsembleID is the URL query parameter naming the ensemble to view.
const QueryEnsembleID = "ensemble_id"

// SessionObserver is told the number of live sessions whenever it changes.
type SessionObserver func(active int)

// Controller owns the viewer sessions.
type Controller struct {
	backend ensemble.Backend
	builder *plot.Builder
	bus     *Bus
	store   StateStore
	logger  logging.Logger
	observe SessionObserver
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

type Option func(*Controller)

// WithStateStore sets where session state is persisted.  The default is a
// MemoryStore.
func WithStateStore(s StateStore) Option {
	return func(c *Controller) {
		if s != nil {
			c.store = s
		}
	}
}

func WithBus(b *Bus) Option {
	return func(c *Controller) {
		if b != nil {
			c.bus = b
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithSessionObserver(o SessionObserver) Option {
	return func(c *Controller) { c.observe = o }
}

func New(backend ensemble.Backend, builder *plot.Builder, opts ...Option) *Controller {
	c := &Controller{
		backend:  backend,
		builder:  builder,
		bus:      NewBus(),
		store:    NewMemoryStore(),
		logger:   logging.NewNopLogger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.builder == nil {
		c.builder = plot.NewBuilder(plot.WithLogger(c.logger))
	}
	return c
}

func (c *Controller) Bus() *Bus { return c.bus }

// ActiveSessions returns the number of sessions held in memory.
func (c *Controller) ActiveSessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// NewSession registers an empty session and persists it.
func (c *Controller) NewSession(ctx context.Context) (*Session, error) {
	s := newSession(uuid.NewString(), c.now())

	s.mu.Lock()
	c.save(ctx, s)
	s.mu.Unlock()

	c.mu.Lock()
	c.sessions[s.id] = s
	n := len(c.sessions)
	c.mu.Unlock()
	c.notify(n)

	logging.FromContext(ctx, c.logger).Info("session created", logging.String(logging.FieldSessionID, s.id))
	return s, nil
}

// Session returns the live session with the given id.  A session that is
// not in memory but known to the StateStore is rebuilt by replaying its
// query, value and selection; replay publishes no events.
func (c *Controller) Session(ctx context.Context, id string) (*Session, error) {
	c.mu.RLock()
	s, ok := c.sessions[id]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	st, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	s = newSession(id, c.now())
	s.mu.Lock()
	err = c.replay(ctx, s, st)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.sessions[id]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.sessions[id] = s
	n := len(c.sessions)
	c.mu.Unlock()
	c.notify(n)

	logging.FromContext(ctx, c.logger).Info("session resumed",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldResponse, st.Value.Response))
	return s, nil
}

// replay restores st without chaining the default build of the query step,
// so a response that fails to build cannot block the resume.  A failed value
// build leaves the session without a figure.
func (c *Controller) replay(ctx context.Context, s *Session, st State) error {
	if st.Query != "" {
		if _, _, err := c.applyQuery(ctx, s, st.Query); err != nil {
			return err
		}
	}
	if st.Value.IsEmpty() {
		return nil
	}
	s.value = st.Value
	if _, _, err := c.onSelector(ctx, s, st.Value); err != nil {
		if !IsPreventUpdate(err) {
			logging.FromContext(ctx, c.logger).Warn("session resumed without figure",
				append(logging.ErrFields(err),
					logging.String(logging.FieldSessionID, s.id),
					logging.String(logging.FieldResponse, st.Value.Response))...)
		}
		return nil
	}
	if len(st.Selection) > 0 {
		if _, _, err := c.onSelection(s, st.Selection); err != nil && !IsPreventUpdate(err) {
			return err
		}
	}
	return nil
}

// Handle applies one input to a session.
func (c *Controller) Handle(ctx context.Context, sessionID string, in Input) (Result, error) {
	switch in.Trigger {
	case TriggerURL, TriggerSelector, TriggerSelectionStore:
	default:
		return Result{}, errors.Newf(errors.CodeUnknownTrigger, "unknown trigger %d", int(in.Trigger))
	}

	s, err := c.Session(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = c.now()

	var (
		res    Result
		events []Event
	)
	switch in.Trigger {
	case TriggerURL:
		res, events, err = c.onURL(ctx, s, in.Query)
	case TriggerSelector:
		res, events, err = c.onSelector(ctx, s, in.Value)
	case TriggerSelectionStore:
		res, events, err = c.onSelection(s, in.Selection)
	}

	log := logging.FromContext(ctx, c.logger).With(
		logging.String(logging.FieldSessionID, s.id),
		logging.String("trigger", in.Trigger.String()))

	if len(events) > 0 {
		c.save(ctx, s)
		for _, ev := range events {
			c.bus.Publish(ev)
		}
	}

	switch {
	case err == nil:
		log.Debug("input handled", logging.Int("events", len(events)))
	case IsPreventUpdate(err):
		log.Debug("input suppressed")
	default:
		log.Warn("input failed", logging.ErrFields(err)...)
	}
	return res, err
}

// HandleURL applies a URL query input.
func (c *Controller) HandleURL(ctx context.Context, sessionID, query string) (Result, error) {
	return c.Handle(ctx, sessionID, Input{Trigger: TriggerURL, Query: query})
}

// HandleSelector applies a response selector input.
func (c *Controller) HandleSelector(ctx context.Context, sessionID string, v SelectorValue) (Result, error) {
	return c.Handle(ctx, sessionID, Input{Trigger: TriggerSelector, Value: v})
}

// HandleSelection applies a realization selection input.
func (c *Controller) HandleSelection(ctx context.Context, sessionID string, names []string) (Result, error) {
	return c.Handle(ctx, sessionID, Input{Trigger: TriggerSelectionStore, Selection: names})
}

// Figure returns the current figure of a session, ErrPreventUpdate when
// none has been built.
func (c *Controller) Figure(ctx context.Context, sessionID string) (*plot.Figure, error) {
	s, err := c.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f := s.figureLocked(); f != nil {
		return f, nil
	}
	return nil, ErrPreventUpdate
}

// Model returns the current plot model of a session, ErrPreventUpdate when
// none has been built.
func (c *Controller) Model(ctx context.Context, sessionID string) (*plot.EnsemblePlotModel, error) {
	s, err := c.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if m := s.Model(); m != nil {
		return m, nil
	}
	return nil, ErrPreventUpdate
}

// Sweep drops in-memory sessions idle for at least idle.  Busy sessions are
// skipped.  Dropped sessions can still be resumed from the StateStore.
func (c *Controller) Sweep(idle time.Duration) int {
	now := c.now()

	c.mu.Lock()
	dropped := 0
	for id, s := range c.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.lastUsed) >= idle {
			delete(c.sessions, id)
			dropped++
		}
		s.mu.Unlock()
	}
	n := len(c.sessions)
	c.mu.Unlock()

	if dropped > 0 {
		c.notify(n)
		c.logger.Debug("idle sessions swept", logging.Int("dropped", dropped), logging.Int("active", n))
	}
	return dropped
}

// onURL commits the options and default value of the query, then feeds the
// value to onSelector as a derived input.  The two steps are separate
// events: when the chained build fails, the options and value stay
// committed and published, the held model is untouched and the build error
// is returned.
func (c *Controller) onURL(ctx context.Context, s *Session, query string) (Result, []Event, error) {
	res, events, err := c.applyQuery(ctx, s, query)
	if err != nil {
		return Result{}, nil, err
	}

	sub, more, err := c.onSelector(ctx, s, res.Value)
	events = append(events, more...)
	if err != nil {
		if IsPreventUpdate(err) {
			return res, events, nil
		}
		return res, events, err
	}
	res.Figure = sub.Figure
	res.Rebuilt = sub.Rebuilt
	return res, events, nil
}

// applyQuery derives the response options for the query's ensemble and
// commits them with the first option as value.  Nothing is committed when
// the ensemble cannot be loaded.
func (c *Controller) applyQuery(ctx context.Context, s *Session, query string) (Result, []Event, error) {
	vals, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return Result{}, nil, errors.Wrap(err, errors.CodeInvalidParam, "malformed query").WithDetail(query)
	}

	options := []ResponseOption{}
	if id := vals.Get(QueryEnsembleID); id != "" {
		ens, ok := s.ensembles[id]
		if !ok {
			ens, err = ensemble.Load(ctx, c.backend, c.backend.EnsembleURL(id))
			if err != nil {
				return Result{}, nil, err
			}
			s.ensembles[id] = ens
		}
		for _, name := range ens.ResponseNames() {
			options = append(options, ResponseOption{
				Label: name,
				Value: SelectorValue{Response: name, EnsembleID: id},
			})
		}
	}

	var value SelectorValue
	if len(options) > 0 {
		value = options[0].Value
	}
	s.query = query
	s.options = options
	s.value = value

	events := []Event{
		OptionsChanged{SessionID: s.id, Options: append([]ResponseOption{}, options...)},
		ValueChanged{SessionID: s.id, Value: value},
	}
	return Result{Options: append([]ResponseOption{}, options...), Value: value}, events, nil
}

// onSelector rebuilds the plot model for v.  An empty value, an ensemble
// the session does not hold and an unknown response are all suppressed.
func (c *Controller) onSelector(ctx context.Context, s *Session, v SelectorValue) (Result, []Event, error) {
	if v.IsEmpty() {
		return Result{}, nil, ErrPreventUpdate
	}
	ens, ok := s.ensembles[v.EnsembleID]
	if !ok {
		return Result{}, nil, ErrPreventUpdate
	}
	resp, err := ens.Response(ctx, v.Response)
	if err != nil {
		if errors.IsCode(err, errors.CodeResponseNotFound) {
			return Result{}, nil, ErrPreventUpdate
		}
		return Result{}, nil, err
	}
	model, err := c.builder.Build(ctx, resp)
	if err != nil {
		return Result{}, nil, err
	}

	s.model = model
	s.value = v
	s.selection = nil

	return Result{
		Options: append([]ResponseOption{}, s.options...),
		Value:   v,
		Figure:  s.figureLocked(),
		Rebuilt: true,
	}, []Event{s.figureEventLocked(true)}, nil
}

// onSelection restyles the held model.  It never fetches.
func (c *Controller) onSelection(s *Session, names []string) (Result, []Event, error) {
	if s.model == nil {
		return Result{}, nil, ErrPreventUpdate
	}
	s.model.SetSelection(names)
	s.selection = append([]string(nil), names...)

	return Result{
		Options: append([]ResponseOption{}, s.options...),
		Value:   s.value,
		Figure:  s.figureLocked(),
	}, []Event{s.figureEventLocked(false)}, nil
}

func (c *Controller) save(ctx context.Context, s *Session) {
	if err := c.store.Save(ctx, s.stateLocked(c.now())); err != nil {
		c.logger.Warn("session state not saved",
			append(logging.ErrFields(err), logging.String(logging.FieldSessionID, s.id))...)
	}
}

func (c *Controller) notify(active int) {
	if c.observe != nil {
		c.observe(active)
	}
}
