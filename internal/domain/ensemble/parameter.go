package ensemble

import (
	"context"

	"github.com/turtacn/ertviz/pkg/types/schema"
)

// Parameter is an input parameter of an ensemble.  Group, key and prior are
// known from the ensemble schema; the rest resolves on demand.
type Parameter struct {
	fetcher Fetcher
	group   string
	key     string
	prior   *schema.Prior
	refURL  string

	schema  lazy[schema.Parameter]
	allData lazy[[]byte]
	values  lazy[[]RealizationValue]
}

// RealizationValue is the value series of a parameter in one realization.
type RealizationValue struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// NewParameter wraps a parameter entry of an ensemble schema.
func NewParameter(f Fetcher, ref schema.ParameterRef) *Parameter {
	return &Parameter{
		fetcher: f,
		group:   ref.Group,
		key:     ref.Key,
		prior:   ref.Prior,
		refURL:  ref.RefURL,
	}
}

func (p *Parameter) Group() string        { return p.group }
func (p *Parameter) Key() string          { return p.key }
func (p *Parameter) Prior() *schema.Prior { return p.prior }
func (p *Parameter) RefURL() string       { return p.refURL }

// Name is "<group>:<key>", or the key alone when there is no group.
func (p *Parameter) Name() string {
	if p.group == "" {
		return p.key
	}
	return p.group + ":" + p.key
}

// Schema resolves the full parameter schema.
func (p *Parameter) Schema(ctx context.Context) (schema.Parameter, error) {
	return p.schema.get(ctx, func(ctx context.Context) (schema.Parameter, error) {
		var s schema.Parameter
		if err := p.fetcher.FetchSchema(ctx, p.refURL, &s); err != nil {
			return schema.Parameter{}, err
		}
		if s.Prior == nil {
			s.Prior = p.prior
		}
		return s, nil
	})
}

// AllData resolves the parameter's combined data payload, unparsed.
func (p *Parameter) AllData(ctx context.Context) ([]byte, error) {
	return p.allData.get(ctx, func(ctx context.Context) ([]byte, error) {
		s, err := p.Schema(ctx)
		if err != nil {
			return nil, err
		}
		return p.fetcher.FetchRaw(ctx, s.AllDataURL)
	})
}

// RealizationValues resolves the per-realization values in schema order.
func (p *Parameter) RealizationValues(ctx context.Context) ([]RealizationValue, error) {
	return p.values.get(ctx, func(ctx context.Context) ([]RealizationValue, error) {
		s, err := p.Schema(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]RealizationValue, 0, len(s.ParameterRealizations))
		for _, pr := range s.ParameterRealizations {
			v, err := p.fetcher.FetchSeries(ctx, pr.DataURL)
			if err != nil {
				return nil, err
			}
			out = append(out, RealizationValue{Name: pr.Name.String(), Values: v})
		}
		return out, nil
	})
}
