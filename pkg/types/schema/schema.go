// Package schema defines the JSON resource shapes served by the ensemble
// storage REST API.  Types here are plain data carriers; resolution of the
// URLs they embed lives in internal/domain/ensemble.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Label is a resource name that the API emits either as a JSON string or as
// a JSON number (realizations are named by their integer index).
type Label string

// UnmarshalJSON accepts "FOPR", 0 and 12.5 alike.
func (l *Label) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Label(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("schema: label must be string or number, got %s", string(data))
	}
	*l = Label(n.String())
	return nil
}

// String returns the label text.
func (l Label) String() string { return string(l) }

// Ref is a named link to another resource.
type Ref struct {
	Name   Label  `json:"name"`
	RefURL string `json:"ref_url"`
}

// DataRef points at a raw data payload.
type DataRef struct {
	DataURL string `json:"data_url"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Ensembles
// ─────────────────────────────────────────────────────────────────────────────

// EnsembleList is the body of GET /ensembles.
type EnsembleList struct {
	Ensembles []EnsembleSummary `json:"ensembles"`
}

// EnsembleSummary is one entry of EnsembleList.
type EnsembleSummary struct {
	Name        string `json:"name"`
	RefURL      string `json:"ref_url"`
	TimeCreated string `json:"time_created,omitempty"`
	Parent      *Ref   `json:"parent,omitempty"`
	Children    []Ref  `json:"children,omitempty"`
}

// ID returns the last path segment of the ensemble's ref_url.
func (s EnsembleSummary) ID() string { return IDFromRefURL(s.RefURL) }

// Ensemble is the body of GET /ensembles/{id}.
type Ensemble struct {
	Name         string         `json:"name"`
	RefURL       string         `json:"ref_url"`
	TimeCreated  string         `json:"time_created,omitempty"`
	Parent       *Ref           `json:"parent,omitempty"`
	Children     []Ref          `json:"children,omitempty"`
	Responses    []Ref          `json:"responses"`
	Realizations []Ref          `json:"realizations"`
	Parameters   []ParameterRef `json:"parameters"`
}

// IDFromRefURL returns the last non-empty path segment of a resource URL.
func IDFromRefURL(refURL string) string {
	trimmed := strings.TrimRight(refURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// ─────────────────────────────────────────────────────────────────────────────
// Responses
// ─────────────────────────────────────────────────────────────────────────────

// Response is the body of GET /ensembles/{id}/responses/{name}.
//
// Realizations and Observations are pointers so that an absent section can be
// told apart from an empty one; both are treated as empty downstream.
type Response struct {
	Name         string                 `json:"name"`
	EnsembleID   string                 `json:"ensemble_id"`
	Axis         DataRef                `json:"axis"`
	AllDataURL   string                 `json:"alldata_url"`
	Realizations *[]ResponseRealization `json:"realizations,omitempty"`
	Observations *[]Observation         `json:"observations,omitempty"`
}

// ResponseRealization is one realization entry embedded in a Response.
type ResponseRealization struct {
	Name              Label                    `json:"name"`
	DataURL           string                   `json:"data_url"`
	RefURL            string                   `json:"ref_url"`
	SummarizedMisfits map[string]float64       `json:"summarized_misfits,omitempty"`
	UnivariateMisfits map[string][]MisfitPoint `json:"univariate_misfits,omitempty"`
}

// MisfitPoint is one univariate misfit value.
type MisfitPoint struct {
	ObsIndex int     `json:"obs_index"`
	Sign     bool    `json:"sign"`
	Value    float64 `json:"value"`
}

// Observation is one observation entry embedded in a Response.
type Observation struct {
	Name string          `json:"name"`
	Data ObservationData `json:"data"`
}

// ObservationData holds the links of an observation's component series.
type ObservationData struct {
	DataIndexes DataRef `json:"data_indexes"`
	KeyIndexes  DataRef `json:"key_indexes"`
	Std         DataRef `json:"std"`
	Values      DataRef `json:"values"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Parameters and realizations
// ─────────────────────────────────────────────────────────────────────────────

// Prior describes a parameter's prior distribution.
type Prior struct {
	Function        string    `json:"function"`
	ParameterNames  []string  `json:"parameter_names"`
	ParameterValues []float64 `json:"parameter_values"`
}

// ParameterRef is a parameter entry embedded in an Ensemble.
type ParameterRef struct {
	Group  string `json:"group"`
	Key    string `json:"key"`
	Prior  *Prior `json:"prior,omitempty"`
	RefURL string `json:"ref_url"`
}

// Parameter is the body of GET /ensembles/{id}/parameters/{n}.
type Parameter struct {
	Group                 string                 `json:"group"`
	Key                   string                 `json:"key"`
	Prior                 *Prior                 `json:"prior,omitempty"`
	RefURL                string                 `json:"ref_url"`
	AllDataURL            string                 `json:"alldata_url"`
	ParameterRealizations []ParameterRealization `json:"parameter_realizations"`
}

// ParameterRealization is one realization value link of a Parameter.
type ParameterRealization struct {
	Name        Label   `json:"name"`
	DataURL     string  `json:"data_url"`
	Realization *RefURL `json:"realization,omitempty"`
}

// RefURL is a bare link object.
type RefURL struct {
	RefURL string `json:"ref_url"`
}
