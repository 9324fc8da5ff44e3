package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/pkg/types/schema"
)

// EnsembleRow is one line of the ensembles listing.
type EnsembleRow struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	TimeCreated string   `json:"time_created,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Children    []string `json:"children,omitempty"`
}

// EnsembleList is the result of the ensembles command.
type EnsembleList []EnsembleRow

func (l EnsembleList) TableHeaders() []string {
	return []string{"ID", "NAME", "CREATED", "PARENT", "CHILDREN"}
}

func (l EnsembleList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{e.ID, e.Name, e.TimeCreated, e.Parent, strings.Join(e.Children, ",")})
	}
	return rows
}

func (l EnsembleList) String() string {
	var sb strings.Builder
	for _, e := range l {
		sb.WriteString(e.ID + "\t" + e.Name + "\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func toEnsembleList(in []schema.EnsembleSummary) EnsembleList {
	out := make(EnsembleList, 0, len(in))
	for _, e := range in {
		row := EnsembleRow{ID: e.ID(), Name: e.Name, TimeCreated: e.TimeCreated}
		if e.Parent != nil {
			row.Parent = e.Parent.Name.String()
		}
		for _, c := range e.Children {
			row.Children = append(row.Children, c.Name.String())
		}
		out = append(out, row)
	}
	return out
}

// NewEnsemblesCmd lists the ensembles of the backend.
func NewEnsemblesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensembles",
		Short: "List ensembles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			list, err := cliCtx.Client.Ensembles(cmd.Context())
			if err != nil {
				return err
			}
			return PrintResult(cmd, toEnsembleList(list))
		},
	}
}

// ResponseList is the result of the responses command.
type ResponseList struct {
	EnsembleID   string   `json:"ensemble_id"`
	Name         string   `json:"name"`
	Responses    []string `json:"responses"`
	Default      string   `json:"default,omitempty"`
	Realizations int      `json:"realizations"`
}

func (r ResponseList) TableHeaders() []string { return []string{"#", "RESPONSE", "DEFAULT"} }

func (r ResponseList) TableRows() [][]string {
	rows := make([][]string, 0, len(r.Responses))
	for i, name := range r.Responses {
		mark := ""
		if name == r.Default {
			mark = "*"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), name, mark})
	}
	return rows
}

func (r ResponseList) String() string { return strings.Join(r.Responses, "\n") }

// NewResponsesCmd lists the responses of one ensemble in selector order.  The
// first response is the one the viewer selects by default.
func NewResponsesCmd() *cobra.Command {
	var ensembleID string
	cmd := &cobra.Command{
		Use:   "responses",
		Short: "List the responses of an ensemble",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ens, err := ensemble.Load(cmd.Context(), cliCtx.Client, cliCtx.Client.EnsembleURL(ensembleID))
			if err != nil {
				return err
			}
			list := ResponseList{
				EnsembleID:   ens.ID(),
				Name:         ens.Name(),
				Responses:    ens.ResponseNames(),
				Realizations: len(ens.RealizationNames()),
			}
			if len(list.Responses) > 0 {
				list.Default = list.Responses[0]
			}
			return PrintResult(cmd, list)
		},
	}
	cmd.Flags().StringVarP(&ensembleID, "ensemble", "e", "", "ensemble id (required)")
	_ = cmd.MarkFlagRequired("ensemble")
	return cmd
}
