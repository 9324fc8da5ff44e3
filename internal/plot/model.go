// Package plot turns ensemble responses into renderer-ready figures.  A
// PlotModel is one series; an EnsemblePlotModel groups the realization and
// observation series of a response with a layout and a mutable selection.
package plot

import (
	"sync"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
)

// Trace modes and colors.
const (
	ModeLinesMarkers = "lines+markers"
	ModeMarkers      = "markers"
	ModeLine         = "line"

	ColorRealization = "royalblue"
	ColorObservation = "red"
	DashDash         = "dash"

	NameObservations = "Observations"
	NameStdLower     = "Observations std lower"
	NameStdUpper     = "Observations std upper"

	OpacitySelected   = 1.0
	OpacityDeselected = 0.2
)

// Line is a trace line style.
type Line struct {
	Color string `json:"color,omitempty"`
	Dash  string `json:"dash,omitempty"`
}

// Marker is a trace marker style.
type Marker struct {
	Color string `json:"color,omitempty"`
	Size  int    `json:"size,omitempty"`
}

// PlotModel is one renderable series.  It is a value object; X is the
// response axis restricted to the series' points.
type PlotModel struct {
	X      ensemble.Axis
	Y      []float64
	Text   string
	Name   string
	Mode   string
	Line   *Line
	Marker *Marker
}

// Trace is the renderer form of a PlotModel.
type Trace struct {
	X       []interface{} `json:"x"`
	Y       []float64     `json:"y"`
	Text    string        `json:"text"`
	Name    string        `json:"name"`
	Mode    string        `json:"mode"`
	Line    *Line         `json:"line,omitempty"`
	Marker  *Marker       `json:"marker,omitempty"`
	Opacity float64       `json:"opacity"`
}

// Repr returns the trace for p at the given opacity.
func (p PlotModel) Repr(opacity float64) Trace {
	return Trace{
		X:       p.X.Values(),
		Y:       p.Y,
		Text:    p.Text,
		Name:    p.Name,
		Mode:    p.Mode,
		Line:    p.Line,
		Marker:  p.Marker,
		Opacity: opacity,
	}
}

// AxisTitle is an axis descriptor.
type AxisTitle struct {
	Title string `json:"title"`
}

// Margin is the figure margin in pixels.
type Margin struct {
	L int `json:"l"`
	B int `json:"b"`
	T int `json:"t"`
	R int `json:"r"`
}

// Layout is the figure layout descriptor.
type Layout struct {
	XAxis      AxisTitle `json:"xaxis"`
	YAxis      AxisTitle `json:"yaxis"`
	Margin     Margin    `json:"margin"`
	HoverMode  string    `json:"hovermode"`
	UIRevision bool      `json:"uirevision"`
}

// DefaultLayout is the layout of every response figure.
func DefaultLayout() Layout {
	return Layout{
		XAxis:      AxisTitle{Title: "Index"},
		YAxis:      AxisTitle{Title: "Unit TODO"},
		Margin:     Margin{L: 40, B: 40, T: 10, R: 0},
		HoverMode:  "closest",
		UIRevision: true,
	}
}

// Figure is the {data, layout} document consumed by the browser renderer.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// EnsemblePlotModel is the plot of one response.  Series are immutable
// after build; only the selection changes.
type EnsemblePlotModel struct {
	EnsembleID string
	Response   string

	realizations []PlotModel
	observations []PlotModel
	layout       Layout

	mu        sync.RWMutex
	selection []string
}

// NewEnsemblePlotModel assembles a model from prebuilt series.
func NewEnsemblePlotModel(realizations, observations []PlotModel, layout Layout) *EnsemblePlotModel {
	if realizations == nil {
		realizations = []PlotModel{}
	}
	if observations == nil {
		observations = []PlotModel{}
	}
	return &EnsemblePlotModel{
		realizations: realizations,
		observations: observations,
		layout:       layout,
		selection:    []string{},
	}
}

func (m *EnsemblePlotModel) Realizations() []PlotModel { return m.realizations }
func (m *EnsemblePlotModel) Observations() []PlotModel { return m.observations }
func (m *EnsemblePlotModel) Layout() Layout            { return m.layout }

// SetSelection replaces the highlighted realization names.  nil clears it.
func (m *EnsemblePlotModel) SetSelection(names []string) {
	sel := make([]string, len(names))
	copy(sel, names)
	m.mu.Lock()
	m.selection = sel
	m.mu.Unlock()
}

// Selection returns a copy of the highlighted realization names.
func (m *EnsemblePlotModel) Selection() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.selection))
	copy(out, m.selection)
	return out
}

// Opacity returns the opacity of the named realization under the current
// selection.
func (m *EnsemblePlotModel) Opacity(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opacityLocked(name)
}

func (m *EnsemblePlotModel) opacityLocked(name string) float64 {
	if len(m.selection) == 0 {
		return OpacitySelected
	}
	for _, s := range m.selection {
		if s == name {
			return OpacitySelected
		}
	}
	return OpacityDeselected
}

// Repr renders the figure: realization traces first, then observation
// traces.  The selection affects opacity only.
func (m *EnsemblePlotModel) Repr() Figure {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data := make([]Trace, 0, len(m.realizations)+len(m.observations))
	for _, r := range m.realizations {
		data = append(data, r.Repr(m.opacityLocked(r.Name)))
	}
	for _, o := range m.observations {
		data = append(data, o.Repr(OpacitySelected))
	}
	return Figure{Data: data, Layout: m.layout}
}
