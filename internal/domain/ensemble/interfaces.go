// Package ensemble holds the lazily resolved domain models for ensemble data:
// ensembles, responses, realizations, observations and parameters.  Each
// model is built from a backend reference URL or an embedded schema fragment
// and resolves its data links on first access.  A value that resolved
// successfully is memoized for the life of the model; a failed resolution is
// not, so the next access tries again.
package ensemble

import (
	"context"

	"github.com/turtacn/ertviz/pkg/types/schema"
)

// Fetcher reads resources addressed by absolute URL.  *client.Client
// satisfies it.
type Fetcher interface {
	FetchSchema(ctx context.Context, url string, out interface{}) error
	FetchSeries(ctx context.Context, url string) ([]float64, error)
	FetchTokens(ctx context.Context, url string) ([]string, error)
	FetchRaw(ctx context.Context, url string) ([]byte, error)
}

// Backend is a Fetcher that also knows the API root.
type Backend interface {
	Fetcher

	// EnsembleURL returns the resource URL of the ensemble with the given id.
	EnsembleURL(id string) string

	// Ensembles lists the ensembles known to the backend.
	Ensembles(ctx context.Context) ([]schema.EnsembleSummary, error)
}
