package plot

import (
	"encoding/json"
	"strconv"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/pkg/errors"
)

// DecodeFigure parses a figure document as produced by Repr.
func DecodeFigure(data []byte) (*Figure, error) {
	var fig Figure
	if err := json.Unmarshal(data, &fig); err != nil {
		return nil, errors.Wrap(err, errors.CodePayloadMalformed, "invalid figure document")
	}
	return &fig, nil
}

// ModelFromFigure rebuilds a model from its figure so that it can be
// rendered without the backend.  Realization traces are the lines+markers
// traces; a realization drawn at full opacity while others are dimmed is
// part of the selection.
func ModelFromFigure(fig *Figure) (*EnsemblePlotModel, error) {
	var (
		realizations, observations []PlotModel
		selected                   []string
		dimmed                     bool
	)
	for i, t := range fig.Data {
		if len(t.X) != len(t.Y) {
			return nil, errors.Newf(errors.CodeDataInconsistent,
				"trace %d has %d x values and %d y values", i, len(t.X), len(t.Y))
		}
		tokens := make([]string, len(t.X))
		for j, v := range t.X {
			tokens[j] = token(v)
		}
		p := PlotModel{
			X:      ensemble.ParseAxis(tokens),
			Y:      t.Y,
			Text:   t.Text,
			Name:   t.Name,
			Mode:   t.Mode,
			Line:   t.Line,
			Marker: t.Marker,
		}
		if t.Mode != ModeLinesMarkers {
			observations = append(observations, p)
			continue
		}
		realizations = append(realizations, p)
		if t.Opacity < OpacitySelected {
			dimmed = true
		} else {
			selected = append(selected, t.Name)
		}
	}

	m := NewEnsemblePlotModel(realizations, observations, fig.Layout)
	if dimmed {
		m.SetSelection(selected)
	}
	return m, nil
}

func token(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
