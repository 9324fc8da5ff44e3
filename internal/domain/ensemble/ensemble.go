package ensemble

import (
	"context"
	"sync"

	"github.com/turtacn/ertviz/pkg/client"
	"github.com/turtacn/ertviz/pkg/errors"
	"github.com/turtacn/ertviz/pkg/types/schema"
)

// Ensemble is a resolved ensemble schema plus on-demand Response models.
type Ensemble struct {
	id      string
	schema  schema.Ensemble
	fetcher Fetcher

	mu        sync.Mutex
	responses map[string]*lazy[*Response]
	refs      map[string]string

	parameters []*Parameter
}

// Load fetches the ensemble schema at refURL.  A 404 from the backend is
// reported as CodeEnsembleNotFound; any other failure keeps its fetch code.
func Load(ctx context.Context, f Fetcher, refURL string) (*Ensemble, error) {
	var s schema.Ensemble
	if err := f.FetchSchema(ctx, refURL, &s); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil, errors.Wrap(err, errors.CodeEnsembleNotFound, "ensemble not found").WithDetail(refURL)
		}
		return nil, err
	}
	if s.RefURL == "" {
		s.RefURL = refURL
	}
	return New(f, s), nil
}

// New wraps an already fetched ensemble schema.
func New(f Fetcher, s schema.Ensemble) *Ensemble {
	e := &Ensemble{
		id:        schema.IDFromRefURL(s.RefURL),
		schema:    s,
		fetcher:   f,
		responses: make(map[string]*lazy[*Response], len(s.Responses)),
		refs:      make(map[string]string, len(s.Responses)),
	}
	for _, r := range s.Responses {
		e.refs[r.Name.String()] = r.RefURL
	}
	for _, p := range s.Parameters {
		e.parameters = append(e.parameters, NewParameter(f, p))
	}
	return e
}

func (e *Ensemble) ID() string             { return e.id }
func (e *Ensemble) Name() string           { return e.schema.Name }
func (e *Ensemble) RefURL() string         { return e.schema.RefURL }
func (e *Ensemble) TimeCreated() string    { return e.schema.TimeCreated }
func (e *Ensemble) Parent() *schema.Ref    { return e.schema.Parent }
func (e *Ensemble) Children() []schema.Ref { return e.schema.Children }

// ResponseNames lists the ensemble's responses in schema order.
func (e *Ensemble) ResponseNames() []string {
	out := make([]string, len(e.schema.Responses))
	for i, r := range e.schema.Responses {
		out[i] = r.Name.String()
	}
	return out
}

// HasResponse reports whether name is one of the ensemble's responses.
func (e *Ensemble) HasResponse(name string) bool {
	_, ok := e.refs[name]
	return ok
}

// RealizationNames lists the ensemble's realizations in schema order.
func (e *Ensemble) RealizationNames() []string {
	out := make([]string, len(e.schema.Realizations))
	for i, r := range e.schema.Realizations {
		out[i] = r.Name.String()
	}
	return out
}

// Parameters returns the ensemble's parameter models.  Their schemas are
// fetched on first use.
func (e *Ensemble) Parameters() []*Parameter { return e.parameters }

// Response returns the named Response, fetching its schema on first use.
func (e *Ensemble) Response(ctx context.Context, name string) (*Response, error) {
	refURL, ok := e.refs[name]
	if !ok {
		return nil, errors.Newf(errors.CodeResponseNotFound,
			"response %q not in ensemble %s", name, e.id)
	}

	e.mu.Lock()
	slot, ok := e.responses[name]
	if !ok {
		slot = &lazy[*Response]{}
		e.responses[name] = slot
	}
	e.mu.Unlock()

	return slot.get(ctx, func(ctx context.Context) (*Response, error) {
		return LoadResponse(ctx, e.fetcher, refURL)
	})
}
