package ensemble

import (
	"context"
	"math"

	"github.com/turtacn/ertviz/pkg/errors"
	"github.com/turtacn/ertviz/pkg/types/schema"
)

// Observation is a sparse set of measured values with standard deviations,
// positioned on a response axis through its data indexes.
type Observation struct {
	fetcher Fetcher
	name    string
	links   schema.ObservationData

	values      lazy[[]float64]
	std         lazy[[]float64]
	dataIndexes lazy[[]float64]
	keyIndexes  lazy[[]string]
}

// NewObservation wraps an observation entry of a response schema.
func NewObservation(f Fetcher, s schema.Observation) *Observation {
	return &Observation{fetcher: f, name: s.Name, links: s.Data}
}

func (o *Observation) Name() string { return o.name }

// Values resolves the observed values.
func (o *Observation) Values(ctx context.Context) ([]float64, error) {
	return o.values.get(ctx, o.series(o.links.Values.DataURL))
}

// Std resolves the standard deviation per observed value.
func (o *Observation) Std(ctx context.Context) ([]float64, error) {
	return o.std.get(ctx, o.series(o.links.Std.DataURL))
}

// DataIndexes resolves the raw data indexes.
func (o *Observation) DataIndexes(ctx context.Context) ([]float64, error) {
	return o.dataIndexes.get(ctx, o.series(o.links.DataIndexes.DataURL))
}

// KeyIndexes resolves the key indexes.  These may be dates.
func (o *Observation) KeyIndexes(ctx context.Context) ([]string, error) {
	return o.keyIndexes.get(ctx, func(ctx context.Context) ([]string, error) {
		return o.fetcher.FetchTokens(ctx, o.links.KeyIndexes.DataURL)
	})
}

// DataIndexesAsAxis returns the data indexes as integer positions into the
// response axis.  Fractional or negative indexes are inconsistent data.
func (o *Observation) DataIndexesAsAxis(ctx context.Context) ([]int, error) {
	raw, err := o.DataIndexes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		if v < 0 || v != math.Trunc(v) {
			return nil, errors.Newf(errors.CodeDataInconsistent,
				"observation %s: data index %v is not a position", o.name, v)
		}
		out[i] = int(v)
	}
	return out, nil
}

func (o *Observation) series(url string) func(context.Context) ([]float64, error) {
	return func(ctx context.Context) ([]float64, error) {
		return o.fetcher.FetchSeries(ctx, url)
	}
}
