package plot

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/pkg/errors"
)

// DefaultFetchConcurrency bounds parallel realization fetches per build.
const DefaultFetchConcurrency = 8

// BuildObserver is notified after every build attempt.
type BuildObserver func(response string, series int, elapsed time.Duration, err error)

// Builder turns Responses into EnsemblePlotModels.
type Builder struct {
	concurrency int
	logger      logging.Logger
	observer    BuildObserver
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithConcurrency bounds parallel realization fetches.  n < 1 is ignored.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLogger sets the builder's logger.
func WithLogger(l logging.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver installs a build observer, typically a metrics hook.
func WithObserver(o BuildObserver) BuilderOption {
	return func(b *Builder) { b.observer = o }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		concurrency: DefaultFetchConcurrency,
		logger:      logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build resolves every series of r and assembles the plot model.  Nothing is
// returned unless all fetches succeeded and the series agree with the axis.
func (b *Builder) Build(ctx context.Context, r *ensemble.Response) (*EnsemblePlotModel, error) {
	start := time.Now()
	m, err := b.build(ctx, r)
	elapsed := time.Since(start)

	series := 0
	if m != nil {
		series = len(m.realizations) + len(m.observations)
	}
	if b.observer != nil {
		b.observer(r.Name(), series, elapsed, err)
	}
	if err != nil {
		b.logger.Warn("figure build failed",
			append(logging.ErrFields(err), logging.String(logging.FieldResponse, r.Name()))...)
		return nil, err
	}
	b.logger.Debug("figure built",
		logging.String(logging.FieldResponse, r.Name()),
		logging.Int("series", series),
		logging.Duration("elapsed", elapsed))
	return m, nil
}

func (b *Builder) build(ctx context.Context, r *ensemble.Response) (*EnsemblePlotModel, error) {
	axis, err := r.Axis(ctx)
	if err != nil {
		return nil, err
	}

	realizations, err := b.realizationSeries(ctx, r, axis)
	if err != nil {
		return nil, err
	}

	var observations []PlotModel
	for _, obs := range r.Observations() {
		triple, err := observationSeries(ctx, obs, axis)
		if err != nil {
			return nil, err
		}
		observations = append(observations, triple...)
	}

	m := NewEnsemblePlotModel(realizations, observations, DefaultLayout())
	m.EnsembleID = r.EnsembleID()
	m.Response = r.Name()
	return m, nil
}

func (b *Builder) realizationSeries(ctx context.Context, r *ensemble.Response, axis ensemble.Axis) ([]PlotModel, error) {
	reals := r.Realizations()
	out := make([]PlotModel, len(reals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, rz := range reals {
		i, rz := i, rz
		g.Go(func() error {
			y, err := rz.Data(gctx)
			if err != nil {
				return err
			}
			if len(y) != axis.Len() {
				return errors.Newf(errors.CodeDataInconsistent,
					"realization %s has %d values, axis has %d", rz.Name(), len(y), axis.Len())
			}
			out[i] = PlotModel{
				X:      axis,
				Y:      y,
				Text:   rz.Name(),
				Name:   rz.Name(),
				Mode:   ModeLinesMarkers,
				Line:   &Line{Color: ColorRealization},
				Marker: &Marker{Color: ColorRealization, Size: 1},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func observationSeries(ctx context.Context, obs *ensemble.Observation, axis ensemble.Axis) ([]PlotModel, error) {
	values, err := obs.Values(ctx)
	if err != nil {
		return nil, err
	}
	std, err := obs.Std(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := obs.DataIndexesAsAxis(ctx)
	if err != nil {
		return nil, err
	}
	if len(idx) != len(values) {
		return nil, errors.Newf(errors.CodeDataInconsistent,
			"observation %s has %d indexes for %d values", obs.Name(), len(idx), len(values))
	}
	if len(std) != len(values) {
		return nil, errors.Newf(errors.CodeDataInconsistent,
			"observation %s has %d std for %d values", obs.Name(), len(std), len(values))
	}
	x, err := axis.Select(idx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDataInconsistent, "observation outside axis").WithDetail(obs.Name())
	}

	lower := make([]float64, len(values))
	upper := make([]float64, len(values))
	for i := range values {
		lower[i] = values[i] - std[i]
		upper[i] = values[i] + std[i]
	}

	dashed := &Line{Color: ColorObservation, Dash: DashDash}
	return []PlotModel{
		{X: x, Y: values, Text: NameObservations, Name: NameObservations, Mode: ModeMarkers,
			Marker: &Marker{Color: ColorObservation, Size: 10}},
		{X: x, Y: lower, Text: NameStdLower, Name: NameStdLower, Mode: ModeLine, Line: dashed},
		{X: x, Y: upper, Text: NameStdUpper, Name: NameStdUpper, Mode: ModeLine, Line: dashed},
	}, nil
}
