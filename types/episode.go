package types

// Phase is the life-cycle phase of the live episode.
type Phase string

const (
	// PhaseCollecting is the initial phase; steps are being appended.
	PhaseCollecting Phase = "collecting"
	// PhaseCompleting is the terminal success phase of an episode.
	PhaseCompleting Phase = "completing"
	// PhaseDiscarding is the terminal failure phase of an episode.
	PhaseDiscarding Phase = "discarding"
	// PhaseDone means the configured episode count was reached.
	PhaseDone Phase = "done"
)

// IsTerminal reports whether the phase ends the current episode.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleting || p == PhaseDiscarding
}

// Episode is a snapshot of the live episode.
type Episode struct {
	Index uint32
	Steps []EpisodeStep
	Phase Phase
}
