package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/marksman/cli/render"
	"github.com/justapithecus/marksman/cli/tui"
)

// listWarningThreshold is the result count above which an unbounded
// listing prints a hint on an interactive stderr.
const listWarningThreshold = 100

// EpisodesCommand returns the episodes command.
// Lists finalized episodes recorded in the dataset.
func EpisodesCommand() *cli.Command {
	return &cli.Command{
		Name:  "episodes",
		Usage: "List recorded episodes",
		Flags: append(DatasetReadFlags(),
			&cli.IntFlag{Name: "limit", Usage: "Maximum episodes to show (0 = all)"},
		),
		Action: episodesAction,
	}
}

func episodesAction(c *cli.Context) error {
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
	items, err := rd.ListEpisodes(ctx, readFilter(c))
	if err != nil {
		return fmt.Errorf("failed to list episodes: %w", err)
	}

	limit := c.Int("limit")
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if limit == 0 && len(items) > listWarningThreshold && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: %d episodes listed; use --limit or --run-id to narrow\n", len(items))
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewEpisodes, items)
	}
	return r.Render(items)
}
