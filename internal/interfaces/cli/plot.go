package cli

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/ertviz/internal/app"
	"github.com/turtacn/ertviz/internal/application/export"
	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/plot"
	"github.com/turtacn/ertviz/pkg/errors"
)

type plotOptions struct {
	ensembleID string
	response   string
	selection  []string
	pngPath    string
	snapshot   bool
	width      int
	height     int
}

// NewPlotCmd builds the figure of one response.  By default the figure JSON
// is written to stdout; --png writes a rendering instead and --snapshot
// archives the figure to object storage.
func NewPlotCmd() *cobra.Command {
	opts := &plotOptions{}
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot the realizations and observations of a response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return runPlot(cmd, cliCtx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ensembleID, "ensemble", "e", "", "ensemble id (required)")
	f.StringVarP(&opts.response, "response", "r", "", "response name (default: the first response of the ensemble)")
	f.StringSliceVar(&opts.selection, "select", nil, "realizations to highlight, comma separated")
	f.StringVar(&opts.pngPath, "png", "", "write a PNG rendering to this file")
	f.BoolVar(&opts.snapshot, "snapshot", false, "archive the figure to object storage")
	f.IntVar(&opts.width, "width", 0, "PNG width (default from config)")
	f.IntVar(&opts.height, "height", 0, "PNG height (default from config)")
	_ = cmd.MarkFlagRequired("ensemble")
	return cmd
}

func runPlot(cmd *cobra.Command, cliCtx *CLIContext, opts *plotOptions) error {
	ctx := cmd.Context()
	m, err := buildModel(ctx, cliCtx, opts.ensembleID, opts.response)
	if err != nil {
		return err
	}
	if len(opts.selection) > 0 {
		m.SetSelection(opts.selection)
	}

	switch {
	case opts.snapshot:
		return snapshot(cmd, cliCtx, m)
	case opts.pngPath != "":
		return writePNG(cmd, cliCtx, m, opts)
	default:
		return printJSON(cmd, m.Repr())
	}
}

func buildModel(ctx context.Context, cliCtx *CLIContext, ensembleID, response string) (*plot.EnsemblePlotModel, error) {
	ens, err := ensemble.Load(ctx, cliCtx.Client, cliCtx.Client.EnsembleURL(ensembleID))
	if err != nil {
		return nil, err
	}
	if response == "" {
		names := ens.ResponseNames()
		if len(names) == 0 {
			return nil, errors.New(errors.CodeResponseNotFound, "ensemble has no responses").WithDetail(ens.ID())
		}
		response = names[0]
	}
	r, err := ens.Response(ctx, response)
	if err != nil {
		return nil, err
	}

	b := plot.NewBuilder(
		plot.WithConcurrency(cliCtx.Config.Backend.FetchConcurrency),
		plot.WithLogger(cliCtx.Logger.Named("plot")),
	)
	return b.Build(ctx, r)
}

func writePNG(cmd *cobra.Command, cliCtx *CLIContext, m *plot.EnsemblePlotModel, opts *plotOptions) error {
	ro := app.RenderOptions(cliCtx.Config.Render)
	ro.Title = m.Response
	if opts.width > 0 {
		ro.Width = opts.width
	}
	if opts.height > 0 {
		ro.Height = opts.height
	}

	var buf bytes.Buffer
	if err := plot.RenderPNG(&buf, m, ro); err != nil {
		return err
	}
	if err := os.WriteFile(opts.pngPath, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to write png").WithDetail(opts.pngPath)
	}
	cliCtx.Logger.Debug("png written", logging.String("path", opts.pngPath), logging.Int("bytes", buf.Len()))
	PrintSuccess(cmd, "wrote "+opts.pngPath)
	return nil
}

func snapshot(cmd *cobra.Command, cliCtx *CLIContext, m *plot.EnsemblePlotModel) error {
	cfg := cliCtx.Config
	if !cfg.MinIO.Enabled {
		return errors.New(errors.CodeFeatureDisabled, "snapshot storage is not configured (minio.enabled)")
	}
	c, store, err := app.NewSnapshotStore(cmd.Context(), &cfg.MinIO, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ref, err := app.NewArchiver(store, cfg.Render, nil, cliCtx.Logger).Archive(cmd.Context(), export.SnapshotRequest{
		SessionID:  "cli",
		EnsembleID: m.EnsembleID,
		Response:   m.Response,
		Model:      m,
	})
	if err != nil {
		return err
	}
	if cliCtx.OutputFormat == "json" {
		return printJSON(cmd, ref)
	}
	keys := []string{ref.FigureKey}
	if ref.PNGKey != "" {
		keys = append(keys, ref.PNGKey)
	}
	PrintSuccess(cmd, "archived to "+ref.Bucket+": "+strings.Join(keys, ", "))
	return nil
}
