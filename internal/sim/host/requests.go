package host

import (
	"context"
	"errors"
)

type requestKind uint8

const (
	reqManualRun requestKind = iota + 1
	reqDayEnd
	reqReload
	reqSnapshot
)

type request struct {
	kind requestKind
	resp chan response
}

type response struct {
	Tick uint64
	Err  error
}

var errStopped = errors.New("host stopped")

// RequestManualRun asks the loop to start a manual run at the next tick.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (h *Host) RequestManualRun(ctx context.Context) error {
	_, err := h.do(ctx, reqManualRun)
	return err
}

// NotifyDayEnding runs the day-end hook at the next tick.
func (h *Host) NotifyDayEnding(ctx context.Context) error {
	_, err := h.do(ctx, reqDayEnd)
	return err
}

// RequestReload takes the scene down for ReloadTicks ticks.
func (h *Host) RequestReload(ctx context.Context) error {
	_, err := h.do(ctx, reqReload)
	return err
}

// RequestSnapshot enqueues a store snapshot and returns its tick.
func (h *Host) RequestSnapshot(ctx context.Context) (uint64, error) {
	return h.do(ctx, reqSnapshot)
}

func (h *Host) do(ctx context.Context, kind requestKind) (uint64, error) {
	select {
	case <-h.stop:
		return 0, errStopped
	default:
	}
	resp := make(chan response, 1)
	select {
	case h.requests <- request{kind: kind, resp: resp}:
	case <-h.stop:
		return 0, errStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Tick, r.Err
	case <-h.stop:
		return 0, errStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Host) failPending(reqs []request, err error) {
	for _, req := range reqs {
		if req.resp == nil {
			continue
		}
		select {
		case req.resp <- response{Err: err}:
		default:
		}
	}
}
