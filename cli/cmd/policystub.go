package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/marksman/cli/config"
	"github.com/justapithecus/marksman/iox"
	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/server"
	"github.com/justapithecus/marksman/types"
)

// PolicyStubCommand returns the policy-stub command, a policy service that
// answers every observation with the same action. Useful for exercising
// infer mode without a model.
func PolicyStubCommand() *cli.Command {
	return &cli.Command{
		Name:  "policy-stub",
		Usage: "Serve a constant-action policy over the wire protocol",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Listen host", Value: config.DefaultHost},
			&cli.IntFlag{Name: "port", Usage: "Listen port (0 picks a free port)", Value: config.DefaultPort},
			&cli.Float64SliceFlag{
				Name:  "action",
				Usage: "Action vector as yaw_rate,pitch_rate,trigger,reserved",
				Value: cli.NewFloat64Slice(0, 0, 0, 0),
			},
		},
		Action: policyStubAction,
	}
}

func policyStubAction(c *cli.Context) error {
	action, err := parseStubAction(c.Float64Slice("action"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	logger := log.NewLogger(&types.RunMeta{RunID: "policy-stub", Mode: types.ModeInfer})
	defer iox.DiscardErr(logger.Sync)

	srv := server.New(action, logger)
	addr := net.JoinHostPort(c.String("host"), strconv.Itoa(c.Int("port")))
	if err := srv.Listen(addr); err != nil {
		return cli.Exit(fmt.Sprintf("listen failed: %v", err), exitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("serve failed: %v", err), exitRunFailure)
	}
	logger.Info("policy stub stopped", map[string]any{"requests": srv.Requests()})
	return nil
}

// parseStubAction validates the --action values.
func parseStubAction(values []float64) (server.ConstantAction, error) {
	if len(values) != types.ActionLen {
		return nil, fmt.Errorf("--action needs %d values, got %d", types.ActionLen, len(values))
	}
	action := make(server.ConstantAction, len(values))
	for i, v := range values {
		action[i] = float32(v)
	}
	return action, nil
}
