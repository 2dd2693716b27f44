package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/marksman/cli/render"
	"github.com/justapithecus/marksman/cli/tui"
)

// StatsCommand returns the stats command.
// Shows the latest persisted metrics snapshot.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show the latest run metrics from the dataset",
		Flags:  DatasetReadFlags(),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, readTimeout)
	defer cancel()

	rd, err := openReader(ctx, c)
	if err != nil {
		return err
	}
	snapshot, err := rd.LatestMetrics(ctx, readFilter(c))
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStats, snapshot)
	}
	return r.Render(snapshot)
}
