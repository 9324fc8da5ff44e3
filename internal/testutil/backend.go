package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Backend is an in-process stand-in for the ensemble storage API, serving a
// small snake-oil style data set.  Resource bodies reference the server's own
// URL so that link following works end to end.
type Backend struct {
	Server *httptest.Server
	URL    string

	mu     sync.Mutex
	hits   map[string]int
	routes map[string]route
}

type route struct {
	status int
	body   string
}

// NewBackend starts a Backend that is closed when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		hits:   make(map[string]int),
		routes: make(map[string]route),
	}
	for path, body := range fixture {
		b.routes[path] = route{status: http.StatusOK, body: body}
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	b.URL = b.Server.URL
	t.Cleanup(b.Server.Close)
	return b
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	rt, ok := b.routes[r.URL.Path]
	b.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	body := strings.ReplaceAll(rt.body, "{{base}}", b.URL)
	if strings.HasPrefix(strings.TrimSpace(body), "{") {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(rt.status)
	_, _ = w.Write([]byte(body))
}

// Set replaces or adds the resource at path.  "{{base}}" in body expands to
// the server URL.
func (b *Backend) Set(path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[path] = route{status: status, body: body}
}

// Remove makes path answer 404.
func (b *Backend) Remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.routes, path)
}

// Hits returns how many times path was requested.
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// TotalHits returns the number of requests served.
func (b *Backend) TotalHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.hits {
		n += v
	}
	return n
}

// ResetHits zeroes all counters.
func (b *Backend) ResetHits() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hits = make(map[string]int)
}

// Fixture paths used across tests.
const (
	PathEnsembles   = "/ensembles"
	PathEnsemble1   = "/ensembles/1"
	PathEnsemble2   = "/ensembles/2"
	PathGPRDiff     = "/ensembles/1/responses/SNAKE_OIL_GPR_DIFF"
	PathFOPR        = "/ensembles/1/responses/FOPR"
	PathParameter1  = "/ensembles/1/parameters/1"
	PathFOPRAxis    = "/data/725"
	PathFOPRReal0   = "/data/726"
	PathObsKeys     = "/data/1"
	PathObsIndexes  = "/data/2"
	PathObsValues   = "/data/3"
	PathObsStd      = "/data/4"
	PathGPRAxis     = "/data/283"
	PathGPRReal0    = "/data/284"
	PathGPRReal1    = "/data/285"
	PathGPRReal2    = "/data/286"
	ResponseGPRDiff = "SNAKE_OIL_GPR_DIFF"
	ResponseFOPR    = "FOPR"
)

var fixture = map[string]string{
	PathEnsembles: `{"ensembles": [
		{"children": [{"name": "default_smoother_update", "ref_url": "{{base}}/ensembles/2"}],
		 "name": "default", "parent": {}, "ref_url": "{{base}}/ensembles/1",
		 "time_created": "2020-04-29T09:36:26"},
		{"children": [], "name": "default_smoother_update",
		 "parent": {"name": "default", "ref_url": "{{base}}/ensembles/1"},
		 "ref_url": "{{base}}/ensembles/2", "time_created": "2020-04-29T09:43:25"}
	]}`,

	PathEnsemble1: `{
		"children": [{"name": "default_smoother_update", "ref_url": "{{base}}/ensembles/2"}],
		"name": "default",
		"parameters": [{
			"group": "SNAKE_OIL_PARAM", "key": "BPR_138_PERSISTENCE",
			"prior": {"function": "UNIFORM", "parameter_names": ["MIN", "MAX"], "parameter_values": [0.2, 0.7]},
			"ref_url": "{{base}}/ensembles/1/parameters/1"
		}],
		"parent": {},
		"realizations": [
			{"name": 0, "ref_url": "{{base}}/ensembles/1/realizations/0"},
			{"name": 1, "ref_url": "{{base}}/ensembles/1/realizations/1"},
			{"name": 2, "ref_url": "{{base}}/ensembles/1/realizations/2"}
		],
		"ref_url": "{{base}}/ensembles/1",
		"responses": [
			{"name": "SNAKE_OIL_GPR_DIFF", "ref_url": "{{base}}/ensembles/1/responses/SNAKE_OIL_GPR_DIFF"},
			{"name": "FOPR", "ref_url": "{{base}}/ensembles/1/responses/FOPR"}
		],
		"time_created": "2020-04-29T09:36:26"
	}`,

	PathEnsemble2: `{
		"children": [],
		"name": "default_smoother_update",
		"parameters": [],
		"parent": {"name": "default", "ref_url": "{{base}}/ensembles/1"},
		"realizations": [],
		"ref_url": "{{base}}/ensembles/2",
		"responses": [],
		"time_created": "2020-04-29T10:36:26"
	}`,

	PathParameter1: `{
		"alldata_url": "{{base}}/ensembles/1/parameters/1/data",
		"group": "SNAKE_OIL_PARAM",
		"key": "BPR_138_PERSISTENCE",
		"parameter_realizations": [
			{"data_url": "{{base}}/data/33", "name": 0, "realization": {"ref_url": "{{base}}/ensembles/1/realizations/0"}},
			{"data_url": "{{base}}/data/34", "name": 1, "realization": {"ref_url": "{{base}}/ensembles/1/realizations/1"}},
			{"data_url": "{{base}}/data/35", "name": 2, "realization": {"ref_url": "{{base}}/ensembles/1/realizations/2"}}
		],
		"prior": {"function": "UNIFORM", "parameter_names": ["MIN", "MAX"], "parameter_values": [0.2, 0.7]},
		"ref_url": "{{base}}/ensembles/1/parameters/1"
	}`,
	"/ensembles/1/parameters/1/data": "0.50, 0.38, 0.35",
	"/data/33":                       "0.50",
	"/data/34":                       "0.38",
	"/data/35":                       "0.35",

	PathGPRDiff: `{
		"alldata_url": "{{base}}/ensembles/1/responses/SNAKE_OIL_GPR_DIFF/data",
		"axis": {"data_url": "{{base}}/data/283"},
		"ensemble_id": "1",
		"name": "SNAKE_OIL_GPR_DIFF",
		"realizations": [
			{"data_url": "{{base}}/data/284", "name": 0, "ref_url": "{{base}}/ensembles/1/realizations/0",
			 "summarized_misfits": {}, "univariate_misfits": {}},
			{"data_url": "{{base}}/data/285", "name": 1, "ref_url": "{{base}}/ensembles/1/realizations/1",
			 "summarized_misfits": {}, "univariate_misfits": {}},
			{"data_url": "{{base}}/data/286", "name": 2, "ref_url": "{{base}}/ensembles/1/realizations/2",
			 "summarized_misfits": {}, "univariate_misfits": {}}
		]
	}`,
	"/ensembles/1/responses/SNAKE_OIL_GPR_DIFF/data": "0.1,0.2,0.3",
	PathGPRAxis:  "0,1,2,3,4,5,6,7,8,9",
	PathGPRReal0: "0.1,0.2,0.3,0.4,0.5,0.6,0.7,0.8,0.9,1.0",
	PathGPRReal1: "0.2,0.3,0.4,0.5,0.6,0.7,0.8,0.9,1.0,1.1",
	PathGPRReal2: "0.3,0.4,0.5,0.6,0.7,0.8,0.9,1.0,1.1,1.2",

	PathFOPR: `{
		"alldata_url": "{{base}}/ensembles/1/responses/FOPR/data",
		"axis": {"data_url": "{{base}}/data/725"},
		"ensemble_id": "1",
		"name": "FOPR",
		"observations": [{
			"data": {
				"data_indexes": {"data_url": "{{base}}/data/2"},
				"key_indexes": {"data_url": "{{base}}/data/1"},
				"std": {"data_url": "{{base}}/data/4"},
				"values": {"data_url": "{{base}}/data/3"}
			},
			"name": "FOPR"
		}],
		"realizations": [{
			"data_url": "{{base}}/data/726",
			"name": 0,
			"ref_url": "{{base}}/ensembles/1/realizations/0",
			"summarized_misfits": {"FOPR": 946.263115564503},
			"univariate_misfits": {"FOPR": [
				{"obs_index": 0, "sign": true, "value": 1.3776484533744848},
				{"obs_index": 1, "sign": true, "value": 1.384794184010784},
				{"obs_index": 2, "sign": true, "value": 1.3966335691013885}
			]}
		}]
	}`,
	"/ensembles/1/responses/FOPR/data": "0.0,0.1,0.2",
	PathFOPRAxis:   "0,1,2,3,4,5,6,7,8,9",
	PathFOPRReal0:  "0.0,0.1,0.2,0.3,0.4,0.5,0.6,0.7,0.8,0.9",
	PathObsKeys:    "2010-01-10, 2010-01-20, 2010-01-30",
	PathObsIndexes: "1,4,8",
	PathObsValues:  "0.10, 0.40, 0.80",
	PathObsStd:     "0.01, 0.04, 0.08",
}
