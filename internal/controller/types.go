// Package controller drives the response viewer.  Each browser session owns
// a small state machine: a URL query selects an ensemble and yields response
// options, the first option becomes the selector value, and the selector
// value builds a figure.  Realization selections only restyle the figure
// that is already built.  State changes are announced on a Bus.
package controller

import (
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/pkg/errors"
)

// ErrPreventUpdate reports that an input left the session unchanged and
// nothing should be redrawn.
var ErrPreventUpdate = errors.New(errors.CodePreventUpdate, "no update")

// IsPreventUpdate reports whether err is a suppressed update.
func IsPreventUpdate(err error) bool {
	return errors.IsCode(err, errors.CodePreventUpdate)
}

// Trigger identifies which input fired.
type Trigger int

const (
	TriggerURL Trigger = iota + 1
	TriggerSelector
	TriggerSelectionStore
)

func (t Trigger) String() string {
	switch t {
	case TriggerURL:
		return "url"
	case TriggerSelector:
		return "response-selector"
	case TriggerSelectionStore:
		return "selection-store"
	default:
		return "unknown"
	}
}

// SelectorValue is the value of the response selector.  The zero value is
// the empty selection.
type SelectorValue struct {
	Response   string `json:"response"`
	EnsembleID string `json:"ensemble_id"`
}

// IsEmpty reports whether no response is selected.
func (v SelectorValue) IsEmpty() bool { return v.Response == "" }

// ResponseOption is one entry of the response selector.
type ResponseOption struct {
	Label string        `json:"label"`
	Value SelectorValue `json:"value"`
}

// Input is a single controller input.  Only the field matching Trigger is
// read.
type Input struct {
	Trigger   Trigger
	Query     string
	Value     SelectorValue
	Selection []string
}

// Result is what a handled input produced.  Figure is nil when the figure
// did not change.
type Result struct {
	Options []ResponseOption `json:"options"`
	Value   SelectorValue    `json:"value"`
	Figure  *plot.Figure     `json:"figure"`
	Rebuilt bool             `json:"rebuilt"`
}
