package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"nightshift.ai/internal/protocol"
	"nightshift.ai/internal/sim/host"
)

const adminTimeout = 5 * time.Second

type adminAPI struct {
	storeID string
	host    *host.Host
	index   runtimeIndex
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.state)
	mux.HandleFunc("/admin/v1/run", a.command(a.host.RequestManualRun))
	mux.HandleFunc("/admin/v1/day_end", a.command(a.host.NotifyDayEnding))
	mux.HandleFunc("/admin/v1/reload", a.command(a.host.RequestReload))
	mux.HandleFunc("/admin/v1/snapshot", a.snapshot)
}

func (a *adminAPI) state(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := struct {
		StoreID string             `json:"store_id"`
		Tick    uint64             `json:"tick"`
		Metrics host.HostMetrics   `json:"metrics"`
		Index   *indexStatsPayload `json:"index,omitempty"`
	}{
		StoreID: a.storeID,
		Tick:    a.host.CurrentTick(),
		Metrics: a.host.Metrics(),
	}
	if a.index != nil {
		s := a.index.Stats()
		resp.Index = &indexStatsPayload{
			QueueDepth:    s.QueueDepth,
			QueueCapacity: s.QueueCapacity,
			Dropped:       s.DropEventTotal + s.DropSnapshotTotal + s.DropDayTotal,
			WriteErrors:   s.WriteErrorTotal,
		}
	}
	writeJSON(rw, http.StatusOK, resp)
}

type indexStatsPayload struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Dropped       uint64 `json:"dropped"`
	WriteErrors   uint64 `json:"write_errors"`
}

func (a *adminAPI) command(fn func(context.Context) error) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !a.allowPost(rw, r) {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": a.host.CurrentTick()})
	}
}

func (a *adminAPI) snapshot(rw http.ResponseWriter, r *http.Request) {
	if !a.allowPost(rw, r) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	tick, err := a.host.RequestSnapshot(ctx)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

func (a *adminAPI) allowPost(rw http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func writeError(rw http.ResponseWriter, err error) {
	code := protocol.CodeFor(err)
	status := http.StatusServiceUnavailable
	switch code {
	case protocol.ErrUnstable, protocol.ErrNotInGameplay, protocol.ErrBusy,
		protocol.ErrAlreadyProcessed, protocol.ErrWorkerActive:
		status = http.StatusConflict
	case protocol.ErrTimeout:
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
	}
	writeJSON(rw, status, protocol.NewErrorMsg(code, err.Error()))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
