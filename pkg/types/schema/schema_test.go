package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabel_UnmarshalStringAndNumber(t *testing.T) {
	var refs []Ref
	err := json.Unmarshal([]byte(`[
		{"name": 0, "ref_url": "http://127.0.0.1:5000/ensembles/1/realizations/0"},
		{"name": "FOPR", "ref_url": "http://127.0.0.1:5000/ensembles/1/responses/FOPR"},
		{"name": null, "ref_url": ""}
	]`), &refs)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, Label("0"), refs[0].Name)
	assert.Equal(t, "FOPR", refs[1].Name.String())
	assert.Equal(t, Label(""), refs[2].Name)
}

func TestLabel_RejectsObjects(t *testing.T) {
	var l Label
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &l))
}

func TestIDFromRefURL(t *testing.T) {
	assert.Equal(t, "1", IDFromRefURL("http://127.0.0.1:5000/ensembles/1"))
	assert.Equal(t, "2", IDFromRefURL("http://127.0.0.1:5000/ensembles/2/"))
	assert.Equal(t, "abc", IDFromRefURL("abc"))
}

func TestResponse_OptionalSections(t *testing.T) {
	var withoutObs Response
	require.NoError(t, json.Unmarshal([]byte(`{
		"alldata_url": "http://127.0.0.1:5000/ensembles/1/responses/SNAKE_OIL_GPR_DIFF/data",
		"axis": {"data_url": "http://127.0.0.1:5000/data/283"},
		"ensemble_id": "1",
		"name": "SNAKE_OIL_GPR_DIFF",
		"realizations": [{"data_url": "http://127.0.0.1:5000/data/284", "name": 0,
			"ref_url": "http://127.0.0.1:5000/ensembles/1/realizations/0",
			"summarized_misfits": {}, "univariate_misfits": {}}]
	}`), &withoutObs))

	assert.Nil(t, withoutObs.Observations)
	require.NotNil(t, withoutObs.Realizations)
	assert.Len(t, *withoutObs.Realizations, 1)
	assert.Equal(t, "http://127.0.0.1:5000/data/283", withoutObs.Axis.DataURL)
}

func TestParameter_Decode(t *testing.T) {
	var p Parameter
	require.NoError(t, json.Unmarshal([]byte(`{
		"alldata_url": "http://127.0.0.1:5000/ensembles/1/parameters/1/data",
		"group": "SNAKE_OIL_PARAM",
		"key": "BPR_138_PERSISTENCE",
		"parameter_realizations": [
			{"data_url": "http://127.0.0.1:5000/data/33", "name": 0,
			 "realization": {"ref_url": "http://127.0.0.1:5000/ensembles/1/realizations/0"}}
		],
		"prior": {"function": "UNIFORM", "parameter_names": ["MIN", "MAX"], "parameter_values": [0.2, 0.7]},
		"ref_url": "http://127.0.0.1:5000/ensembles/1/parameters/1"
	}`), &p))

	assert.Equal(t, "UNIFORM", p.Prior.Function)
	assert.Equal(t, []float64{0.2, 0.7}, p.Prior.ParameterValues)
	require.Len(t, p.ParameterRealizations, 1)
	assert.Equal(t, Label("0"), p.ParameterRealizations[0].Name)
}
