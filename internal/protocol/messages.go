package protocol

import "nightshift.ai/internal/sim/nightshift"

// SUBSCRIBE (observer -> server). First message on the observer connection;
// it may be re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Kinds limits the stream to these event kinds; empty means all.
	Kinds []string `json:"kinds,omitempty"`
	// Heartbeats are filtered out unless requested.
	Heartbeats bool `json:"heartbeats,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	StoreParams     StoreParams `json:"store_params"`
}

// EVENT (server -> observer)
type EventMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Seq             uint64           `json:"seq"`
	Event           nightshift.Event `json:"event"`
}

// ERROR (server -> client); also the body of failed admin requests.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	StoreID         string         `json:"store_id"`
	Tick            uint64         `json:"tick"`
	StoreParams     StoreParams    `json:"store_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type StoreParams struct {
	TickRateHz     int   `json:"tick_rate_hz"`
	DayTicks       int   `json:"day_ticks"`
	Seed           int64 `json:"seed"`
	RunDelayMs     int64 `json:"run_delay_ms"`
	SettleWindowMs int64 `json:"settle_window_ms"`
}

type CatalogDigests struct {
	ProductsDigest string `json:"products_digest"`
	LayoutDigest   string `json:"layout_digest"`
	TuningDigest   string `json:"tuning_digest,omitempty"`
}

func NewEventMsg(seq uint64, e nightshift.Event) EventMsg {
	return EventMsg{Type: TypeEvent, ProtocolVersion: Version, Seq: seq, Event: e}
}

func NewErrorMsg(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
