package ensemble

import (
	"context"

	"github.com/turtacn/ertviz/pkg/types/schema"
)

// Response is one response of an ensemble: a shared axis, one data series
// per realization and zero or more observations.
type Response struct {
	fetcher    Fetcher
	name       string
	ensembleID string
	refURL     string
	axisURL    string
	allDataURL string

	realizations []*Realization
	observations []*Observation

	axis    lazy[Axis]
	allData lazy[[]byte]
}

// LoadResponse fetches the response schema at refURL.
func LoadResponse(ctx context.Context, f Fetcher, refURL string) (*Response, error) {
	var s schema.Response
	if err := f.FetchSchema(ctx, refURL, &s); err != nil {
		return nil, err
	}
	return NewResponse(f, refURL, s), nil
}

// NewResponse wraps an already fetched response schema.  Absent realizations
// or observations sections yield empty slices.
func NewResponse(f Fetcher, refURL string, s schema.Response) *Response {
	r := &Response{
		fetcher:      f,
		name:         s.Name,
		ensembleID:   s.EnsembleID,
		refURL:       refURL,
		axisURL:      s.Axis.DataURL,
		allDataURL:   s.AllDataURL,
		realizations: []*Realization{},
		observations: []*Observation{},
	}
	if s.Realizations != nil {
		for _, rs := range *s.Realizations {
			r.realizations = append(r.realizations, NewRealization(f, rs))
		}
	}
	if s.Observations != nil {
		for _, os := range *s.Observations {
			r.observations = append(r.observations, NewObservation(f, os))
		}
	}
	return r
}

func (r *Response) Name() string       { return r.name }
func (r *Response) EnsembleID() string { return r.ensembleID }
func (r *Response) RefURL() string     { return r.refURL }

// Realizations returns the realization models in schema order.
func (r *Response) Realizations() []*Realization { return r.realizations }

// Observations returns the observation models in schema order.
func (r *Response) Observations() []*Observation { return r.observations }

// Axis resolves the shared x-axis.
func (r *Response) Axis(ctx context.Context) (Axis, error) {
	return r.axis.get(ctx, func(ctx context.Context) (Axis, error) {
		tokens, err := r.fetcher.FetchTokens(ctx, r.axisURL)
		if err != nil {
			return Axis{}, err
		}
		return ParseAxis(tokens), nil
	})
}

// AllData resolves the response's combined data payload, unparsed.
func (r *Response) AllData(ctx context.Context) ([]byte, error) {
	return r.allData.get(ctx, func(ctx context.Context) ([]byte, error) {
		return r.fetcher.FetchRaw(ctx, r.allDataURL)
	})
}
