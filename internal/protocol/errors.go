package protocol

import (
	"context"
	"errors"

	"nightshift.ai/internal/sim/nightshift"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Schedule rejections.
	ErrUnstable         = "E_UNSTABLE"
	ErrNotInGameplay    = "E_NOT_IN_GAMEPLAY"
	ErrBusy             = "E_BUSY"
	ErrAlreadyProcessed = "E_ALREADY_PROCESSED"
	ErrWorkerActive     = "E_WORKER_ACTIVE"

	// Host layer.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrUnavailable = "E_UNAVAILABLE"
	ErrTimeout     = "E_TIMEOUT"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrUnstable:         {},
	ErrNotInGameplay:    {},
	ErrBusy:             {},
	ErrAlreadyProcessed: {},
	ErrWorkerActive:     {},
	ErrBadRequest:       {},
	ErrUnavailable:      {},
	ErrTimeout:          {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a host or scheduler error onto a wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, nightshift.ErrEnvironmentUnstable):
		return ErrUnstable
	case errors.Is(err, nightshift.ErrNotInGameplay), errors.Is(err, nightshift.ErrMissingCollaborator):
		return ErrNotInGameplay
	case errors.Is(err, nightshift.ErrBusy):
		return ErrBusy
	case errors.Is(err, nightshift.ErrAlreadyProcessed):
		return ErrAlreadyProcessed
	case errors.Is(err, nightshift.ErrWorkerActive):
		return ErrWorkerActive
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTimeout
	default:
		return ErrInternal
	}
}
