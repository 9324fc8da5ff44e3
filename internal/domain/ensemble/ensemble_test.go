package ensemble_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/internal/testutil"
	"github.com/turtacn/ertviz/pkg/client"
	"github.com/turtacn/ertviz/pkg/errors"
)

func newBackend(t *testing.T) (*testutil.Backend, *client.Client) {
	t.Helper()
	b := testutil.NewBackend(t)
	c, err := client.NewClient(b.URL)
	require.NoError(t, err)
	return b, c
}

func loadEnsemble(t *testing.T, c *client.Client, id string) *ensemble.Ensemble {
	t.Helper()
	e, err := ensemble.Load(context.Background(), c, c.EnsembleURL(id))
	require.NoError(t, err)
	return e
}

func TestLoad_Ensemble(t *testing.T) {
	_, c := newBackend(t)
	e := loadEnsemble(t, c, "1")

	assert.Equal(t, "1", e.ID())
	assert.Equal(t, "default", e.Name())
	assert.Equal(t, "2020-04-29T09:36:26", e.TimeCreated())
	assert.Equal(t, []string{testutil.ResponseGPRDiff, testutil.ResponseFOPR}, e.ResponseNames())
	assert.Equal(t, []string{"0", "1", "2"}, e.RealizationNames())
	require.Len(t, e.Children(), 1)
	assert.Equal(t, "default_smoother_update", e.Children()[0].Name.String())
	assert.True(t, e.HasResponse("FOPR"))
	assert.False(t, e.HasResponse("WOPR"))
}

func TestLoad_EnsembleNotFound(t *testing.T) {
	_, c := newBackend(t)
	_, err := ensemble.Load(context.Background(), c, c.EnsembleURL("42"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeEnsembleNotFound))
	assert.True(t, errors.IsNotFound(err))
}

func TestLoad_EnsembleBackendError(t *testing.T) {
	b, c := newBackend(t)
	b.Set(testutil.PathEnsemble1, http.StatusInternalServerError, "oops")
	_, err := ensemble.Load(context.Background(), c, c.EnsembleURL("1"))
	assert.True(t, errors.IsCode(err, errors.CodeFetchFailed))
}

func TestEnsemble_ResponseIsMemoized(t *testing.T) {
	b, c := newBackend(t)
	e := loadEnsemble(t, c, "1")
	ctx := context.Background()

	r1, err := e.Response(ctx, testutil.ResponseFOPR)
	require.NoError(t, err)
	r2, err := e.Response(ctx, testutil.ResponseFOPR)
	require.NoError(t, err)

	assert.Same(t, r1, r2)
	assert.Equal(t, 1, b.Hits(testutil.PathFOPR))
	assert.Equal(t, "1", r1.EnsembleID())
}

func TestEnsemble_ResponseMiss(t *testing.T) {
	_, c := newBackend(t)
	e := loadEnsemble(t, c, "1")
	_, err := e.Response(context.Background(), "WOPR")
	assert.True(t, errors.IsCode(err, errors.CodeResponseNotFound))
}

func TestEnsemble_FailedResponseNotMemoized(t *testing.T) {
	b, c := newBackend(t)
	e := loadEnsemble(t, c, "1")
	ctx := context.Background()

	b.Set(testutil.PathFOPR, http.StatusBadGateway, "")
	_, err := e.Response(ctx, testutil.ResponseFOPR)
	require.Error(t, err)

	b.Set(testutil.PathFOPR, http.StatusOK, `{"name": "FOPR", "ensemble_id": "1", "axis": {"data_url": "{{base}}/data/725"}}`)
	r, err := e.Response(ctx, testutil.ResponseFOPR)
	require.NoError(t, err)
	assert.Equal(t, "FOPR", r.Name())
	assert.Equal(t, 2, b.Hits(testutil.PathFOPR))
}

func TestEnsemble_ConcurrentResponseSingleFetch(t *testing.T) {
	b, c := newBackend(t)
	e := loadEnsemble(t, c, "1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Response(context.Background(), testutil.ResponseGPRDiff)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, b.Hits(testutil.PathGPRDiff))
}

func TestEnsemble_Parameters(t *testing.T) {
	b, c := newBackend(t)
	e := loadEnsemble(t, c, "1")
	ctx := context.Background()

	params := e.Parameters()
	require.Len(t, params, 1)
	p := params[0]
	assert.Equal(t, "SNAKE_OIL_PARAM:BPR_138_PERSISTENCE", p.Name())
	assert.Equal(t, "UNIFORM", p.Prior().Function)
	assert.Equal(t, 0, b.Hits(testutil.PathParameter1))

	values, err := p.RealizationValues(ctx)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, "0", values[0].Name)
	assert.Equal(t, []float64{0.5}, values[0].Values)
	assert.Equal(t, []float64{0.35}, values[2].Values)

	all, err := p.AllData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.50, 0.38, 0.35", string(all))
	assert.Equal(t, 1, b.Hits(testutil.PathParameter1))
}
