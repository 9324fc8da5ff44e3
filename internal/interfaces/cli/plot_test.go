package cli

import (
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/internal/testutil"
	"github.com/turtacn/ertviz/pkg/errors"
)

func decodeCLIFigure(t *testing.T, out string) plot.Figure {
	t.Helper()
	var fig plot.Figure
	require.NoError(t, json.Unmarshal([]byte(out), &fig))
	return fig
}

func TestPlot_FigureJSON(t *testing.T) {
	b := testutil.NewBackend(t)

	out, err := runCLI(t, "plot", "--backend", b.URL, "-e", "1", "-r", testutil.ResponseGPRDiff)
	require.NoError(t, err)
	assert.Len(t, decodeCLIFigure(t, out).Data, 3)

	out, err = runCLI(t, "plot", "--backend", b.URL, "-e", "1", "-r", testutil.ResponseFOPR)
	require.NoError(t, err)
	assert.Len(t, decodeCLIFigure(t, out).Data, 4)
}

func TestPlot_DefaultsToFirstResponse(t *testing.T) {
	b := testutil.NewBackend(t)
	_, err := runCLI(t, "plot", "--backend", b.URL, "-e", "1")
	require.NoError(t, err)
	assert.NotZero(t, b.Hits(testutil.PathGPRDiff))
	assert.Zero(t, b.Hits(testutil.PathFOPR))
}

func TestPlot_SelectionChangesFigure(t *testing.T) {
	b := testutil.NewBackend(t)

	plain, err := runCLI(t, "plot", "--backend", b.URL, "-e", "1", "-r", testutil.ResponseGPRDiff)
	require.NoError(t, err)
	selected, err := runCLI(t, "plot", "--backend", b.URL, "-e", "1", "-r", testutil.ResponseGPRDiff, "--select", "0,2")
	require.NoError(t, err)

	assert.Len(t, decodeCLIFigure(t, selected).Data, 3)
	assert.NotEqual(t, plain, selected)
}

func TestPlot_PNG(t *testing.T) {
	b := testutil.NewBackend(t)
	path := filepath.Join(t.TempDir(), "gpr.png")

	out, err := runCLI(t, "plot", "--backend", b.URL, "-e", "1", "-r", testutil.ResponseGPRDiff,
		"--png", path, "--width", "300", "--height", "180")
	require.NoError(t, err)
	assert.Equal(t, "OK: wrote "+path+"\n", out)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())
}

func TestPlot_Errors(t *testing.T) {
	b := testutil.NewBackend(t)

	_, err := runCLI(t, "plot", "--backend", b.URL, "-e", "1", "-r", "NOPE")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResponseNotFound))

	_, err = runCLI(t, "plot", "--backend", b.URL, "-e", "2")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResponseNotFound))

	_, err = runCLI(t, "plot", "--backend", b.URL, "-e", "1", "--snapshot")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeFeatureDisabled))
}
