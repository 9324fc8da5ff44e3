package handlers

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/http"
	"net/url"

	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/pkg/types/schema"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	// ViewerPath is the page that plots one ensemble.
	ViewerPath = "/ensemble-viewer/"

	// APIBase prefixes every JSON endpoint.
	APIBase = "/api/v1"

	DefaultPlotlyURL = "https://cdn.plot.ly/plotly-2.27.0.min.js"
)

// EnsembleLister lists the ensembles of the backend.  *client.Client
// satisfies it.
type EnsembleLister interface {
	Ensembles(ctx context.Context) ([]schema.EnsembleSummary, error)
}

// EnsembleLink is one ensemble with its viewer link.
type EnsembleLink struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	TimeCreated string   `json:"time_created,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Children    []string `json:"children,omitempty"`
	ViewerURL   string   `json:"viewer_url"`
}

// ViewerURL returns the viewer link of ensemble id.
func ViewerURL(id string) string {
	return ViewerPath + "?" + url.Values{"ensemble_id": {id}}.Encode()
}

// EnsembleLinks maps backend summaries to viewer links, keeping order.
func EnsembleLinks(list []schema.EnsembleSummary) []EnsembleLink {
	out := make([]EnsembleLink, 0, len(list))
	for _, e := range list {
		link := EnsembleLink{
			ID:          e.ID(),
			Name:        e.Name,
			TimeCreated: e.TimeCreated,
			ViewerURL:   ViewerURL(e.ID()),
		}
		if e.Parent != nil {
			link.Parent = e.Parent.Name.String()
		}
		for _, c := range e.Children {
			link.Children = append(link.Children, c.Name.String())
		}
		out = append(out, link)
	}
	return out
}

// ViewerHandler serves the HTML pages and the ensemble list.
type ViewerHandler struct {
	backend   EnsembleLister
	logger    logging.Logger
	plotlyURL string
}

func NewViewerHandler(backend EnsembleLister, logger logging.Logger) *ViewerHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ViewerHandler{backend: backend, logger: logger, plotlyURL: DefaultPlotlyURL}
}

// WithPlotlyURL points the viewer page at another plotly.js bundle.
func (h *ViewerHandler) WithPlotlyURL(u string) *ViewerHandler {
	if u != "" {
		h.plotlyURL = u
	}
	return h
}

// Overview handles GET /.
func (h *ViewerHandler) Overview(w http.ResponseWriter, r *http.Request) {
	list, err := h.backend.Ensembles(r.Context())
	if err != nil {
		writeAppError(w, logging.FromContext(r.Context(), h.logger), err)
		return
	}
	h.render(w, r, "overview.html", struct{ Ensembles []EnsembleLink }{EnsembleLinks(list)})
}

// Viewer handles GET /ensemble-viewer/.  The page drives the session API
// from the browser.
func (h *ViewerHandler) Viewer(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "viewer.html", struct {
		APIBase   string
		PlotlyURL string
	}{APIBase, h.plotlyURL})
}

// ListEnsembles handles GET /api/v1/ensembles.
func (h *ViewerHandler) ListEnsembles(w http.ResponseWriter, r *http.Request) {
	list, err := h.backend.Ensembles(r.Context())
	if err != nil {
		writeAppError(w, logging.FromContext(r.Context(), h.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ensembles": EnsembleLinks(list)})
}

func (h *ViewerHandler) render(w http.ResponseWriter, r *http.Request, name string, data interface{}) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		logging.FromContext(r.Context(), h.logger).Error("template failed", logging.String("template", name), logging.Err(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
