package policy

import (
	"context"

	"github.com/justapithecus/marksman/ipc"
	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/types"
)

// PolicyClient is the subset of *client.Client used by Remote.
type PolicyClient interface {
	GetAction(ctx context.Context, obs *types.Observation) (types.ActionVector, error)
	Healthy() bool
	Reconnect(ctx context.Context) error
}

// Remote obtains actions from the policy service.
type Remote struct {
	client    PolicyClient
	metrics   *metrics.Collector
	reconnect bool
	stats     statsRecorder
}

// NewRemote wraps a connected client. When reconnect is true a broken
// connection is re-dialed before the next round trip; otherwise it stays
// broken and every call falls back to the zero action.
func NewRemote(c PolicyClient, collector *metrics.Collector, reconnect bool) *Remote {
	return &Remote{client: c, metrics: collector, reconnect: reconnect}
}

// Name implements ActionSource.
func (r *Remote) Name() string { return SourceRemote }

// Stats implements ActionSource.
func (r *Remote) Stats() Stats { return r.stats.snapshot() }

// NextAction implements ActionSource.
func (r *Remote) NextAction(ctx context.Context, obs *types.Observation) (types.ActionVector, error) {
	action, err := r.next(ctx, obs)
	r.stats.record(action, err)
	return action, err
}

func (r *Remote) next(ctx context.Context, obs *types.Observation) (types.ActionVector, error) {
	if r.reconnect && !r.client.Healthy() {
		if err := r.client.Reconnect(ctx); err != nil {
			r.metrics.IncTransportError()
			r.metrics.IncFallbackAction()
			return types.ZeroAction, err
		}
		r.metrics.IncReconnect()
	}

	action, err := r.client.GetAction(ctx, obs)
	switch {
	case err == nil:
		r.metrics.IncRemoteAction()
		return action, nil
	case ipc.IsMalformed(err):
		r.metrics.IncMalformedMessage()
	default:
		r.metrics.IncTransportError()
	}
	r.metrics.IncFallbackAction()
	return types.ZeroAction, err
}
