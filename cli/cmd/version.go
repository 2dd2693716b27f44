package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/marksman/cli/render"
	"github.com/justapithecus/marksman/ipc"
	"github.com/justapithecus/marksman/types"
)

// VersionResponse is the response for the version command.
// The binary, wire protocol and dataset layout share one version.
type VersionResponse struct {
	Version         string `json:"version"`
	ContractVersion string `json:"contract_version"`
	Commit          string `json:"commit"`
	// ActionLen and MaxFrameBytes describe the policy wire protocol.
	ActionLen     int `json:"action_len"`
	MaxFrameBytes int `json:"max_frame_bytes"`
}

// VersionCommand returns the version command.
// It must not contact the policy service.
func VersionCommand(_, commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version and protocol information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", 1)
		}

		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:         types.Version,
			ContractVersion: types.ContractVersion,
			Commit:          commit,
			ActionLen:       types.ActionLen,
			MaxFrameBytes:   ipc.MaxFrameSize,
		})
	}
}
