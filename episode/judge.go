package episode

// Verdict is the outcome signaled for the live episode.
type Verdict int

const (
	// VerdictNone means no outcome yet.
	VerdictNone Verdict = iota
	// VerdictSuccess finalizes the episode.
	VerdictSuccess
	// VerdictFailure discards the episode.
	VerdictFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictFailure:
		return "failure"
	default:
		return "none"
	}
}

// Hit describes what a projectile struck.
type Hit struct {
	// Object is the name of the struck object.
	Object string
	// IsTarget is true when the struck object is the episode target.
	IsTarget bool
	// TargetUpright is true when the target is still standing after impact.
	TargetUpright bool
}

// Judge turns a hit into a verdict.
type Judge interface {
	Judge(hit Hit) Verdict
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(hit Hit) Verdict

// Judge implements Judge.
func (f JudgeFunc) Judge(hit Hit) Verdict { return f(hit) }

// TargetJudge succeeds when the target itself is struck and is still
// standing, and fails on anything else.
type TargetJudge struct{}

// Judge implements Judge.
func (TargetJudge) Judge(hit Hit) Verdict {
	if hit.IsTarget && hit.TargetUpright {
		return VerdictSuccess
	}
	return VerdictFailure
}
