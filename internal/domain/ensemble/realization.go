package ensemble

import (
	"context"

	"github.com/turtacn/ertviz/pkg/types/schema"
)

// Realization is one member of a response: its name and y-series.
type Realization struct {
	fetcher Fetcher
	name    string
	dataURL string
	refURL  string
	misfits map[string]float64

	data lazy[[]float64]
}

// NewRealization wraps a realization entry of a response schema.
func NewRealization(f Fetcher, s schema.ResponseRealization) *Realization {
	return &Realization{
		fetcher: f,
		name:    s.Name.String(),
		dataURL: s.DataURL,
		refURL:  s.RefURL,
		misfits: s.SummarizedMisfits,
	}
}

func (r *Realization) Name() string   { return r.name }
func (r *Realization) RefURL() string { return r.refURL }

// SummarizedMisfits maps observation name to the realization's misfit.
func (r *Realization) SummarizedMisfits() map[string]float64 { return r.misfits }

// Data resolves the realization's y-series.
func (r *Realization) Data(ctx context.Context) ([]float64, error) {
	return r.data.get(ctx, func(ctx context.Context) ([]float64, error) {
		return r.fetcher.FetchSeries(ctx, r.dataURL)
	})
}
