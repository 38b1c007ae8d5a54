package nightshift

import "errors"

var (
	// ErrMissingCollaborator means a required host collaborator is not available.
	// It is fatal to the current run.
	ErrMissingCollaborator = errors.New("collaborator unavailable")
	// ErrEnvironmentUnstable is reported while the settle window is open.
	ErrEnvironmentUnstable = errors.New("environment unstable")
	// ErrCapExceeded is recorded when a run hits its wall-clock or pass cap.
	ErrCapExceeded = errors.New("cap exceeded")

	// Schedule rejections.
	ErrNotInGameplay    = errors.New("not in gameplay")
	ErrBusy             = errors.New("run in progress")
	ErrAlreadyProcessed = errors.New("day already processed")
	ErrWorkerActive     = errors.New("worker already active")

	errNoStock = errors.New("no eligible box")
)

type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindMissingCollaborator ErrorKind = "MISSING_COLLABORATOR"
	KindInstability         ErrorKind = "ENVIRONMENT_INSTABILITY"
	KindTransient           ErrorKind = "TRANSIENT_ITEM_FAILURE"
	KindCapExceeded         ErrorKind = "CAP_EXCEEDED"
)

// Classify maps an error onto the run error taxonomy. Errors that carry no
// known sentinel are treated as transient item failures.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMissingCollaborator), errors.Is(err, ErrNotInGameplay):
		return KindMissingCollaborator
	case errors.Is(err, ErrEnvironmentUnstable):
		return KindInstability
	case errors.Is(err, ErrCapExceeded):
		return KindCapExceeded
	default:
		return KindTransient
	}
}

func isFatal(err error) bool {
	k := Classify(err)
	return k == KindMissingCollaborator || k == KindInstability
}

// deferrable rejections are retried once the blocking condition clears.
func deferrable(err error) bool {
	return errors.Is(err, ErrEnvironmentUnstable) ||
		errors.Is(err, ErrNotInGameplay) ||
		errors.Is(err, ErrMissingCollaborator) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrWorkerActive)
}

// RejectionCode names the schedule rejection carried by err.
func RejectionCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEnvironmentUnstable):
		return "UNSTABLE"
	case errors.Is(err, ErrNotInGameplay), errors.Is(err, ErrMissingCollaborator):
		return "NOT_IN_GAMEPLAY"
	case errors.Is(err, ErrBusy):
		return "BUSY"
	case errors.Is(err, ErrAlreadyProcessed):
		return "ALREADY_PROCESSED"
	case errors.Is(err, ErrWorkerActive):
		return "WORKER_ACTIVE"
	default:
		return "OTHER"
	}
}
