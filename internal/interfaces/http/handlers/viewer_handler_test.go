package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/testutil"
	"github.com/turtacn/ertviz/pkg/client"
)

func newViewerHandler(t *testing.T) (*ViewerHandler, *testutil.Backend) {
	t.Helper()
	b := testutil.NewBackend(t)
	c, err := client.NewClient(b.URL)
	require.NoError(t, err)
	return NewViewerHandler(c, nil), b
}

func TestViewerURL(t *testing.T) {
	assert.Equal(t, "/ensemble-viewer/?ensemble_id=1", ViewerURL("1"))
	assert.Equal(t, "/ensemble-viewer/?ensemble_id=a+b%2Fc", ViewerURL("a b/c"))
}

func TestViewerHandler_Overview(t *testing.T) {
	h, _ := newViewerHandler(t)
	w := httptest.NewRecorder()
	h.Overview(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, `<a href="/ensemble-viewer/?ensemble_id=1">default</a>`)
	assert.Contains(t, body, `<a href="/ensemble-viewer/?ensemble_id=2">default_smoother_update</a>`)
	assert.Contains(t, body, "parent: default")
}

func TestViewerHandler_OverviewBackendDown(t *testing.T) {
	h, b := newViewerHandler(t)
	b.Set(testutil.PathEnsembles, http.StatusInternalServerError, "boom")

	w := httptest.NewRecorder()
	h.Overview(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestViewerHandler_ListEnsembles(t *testing.T) {
	h, _ := newViewerHandler(t)
	w := httptest.NewRecorder()
	h.ListEnsembles(w, httptest.NewRequest(http.MethodGet, "/api/v1/ensembles", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Ensembles []EnsembleLink `json:"ensembles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Ensembles, 2)
	assert.Equal(t, EnsembleLink{
		ID:          "1",
		Name:        "default",
		TimeCreated: "2020-04-29T09:36:26",
		Children:    []string{"default_smoother_update"},
		ViewerURL:   "/ensemble-viewer/?ensemble_id=1",
	}, body.Ensembles[0])
	assert.Equal(t, "default", body.Ensembles[1].Parent)
}

func TestViewerHandler_Viewer(t *testing.T) {
	h, _ := newViewerHandler(t)
	h.WithPlotlyURL("/static/plotly.js")

	w := httptest.NewRecorder()
	h.Viewer(w, httptest.NewRequest(http.MethodGet, "/ensemble-viewer/?ensemble_id=1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `<script src="/static/plotly.js"></script>`)
	assert.Contains(t, body, `id="response-selector"`)
}
