package types

// OutcomeStatus classifies how a run ended.
type OutcomeStatus string

const (
	// OutcomeSuccess means every configured episode was collected, or an
	// infer run reached its time limit.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeStorageFailure means the loop finished but recording or
	// metrics persistence failed at least once.
	OutcomeStorageFailure OutcomeStatus = "storage_failure"
	// OutcomeCanceled means the run was interrupted before it finished.
	OutcomeCanceled OutcomeStatus = "canceled"
)

// RunOutcome is the final status of a run.
type RunOutcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}
