package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"nightshift.ai/internal/protocol"
	"nightshift.ai/internal/sim/nightshift"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	require.NoError(t, err, "compile %s", name)
	return s
}

// roundTrip validates the JSON encoding of v, the way a client sees it.
func roundTrip(t *testing.T, s *jsonschema.Schema, v any) error {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var doc any
	require.NoError(t, json.Unmarshal(b, &doc))
	return s.Validate(doc)
}

func TestSchemas_ValidateMessages(t *testing.T) {
	at := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	from, to := nightshift.StateInit, nightshift.StateRestock
	params := protocol.StoreParams{TickRateHz: 20, DayTicks: 12000, Seed: 1337, RunDelayMs: 6000, SettleWindowMs: 3000}

	eventSchema := compile(t, "event.schema.json")
	require.NoError(t, roundTrip(t, eventSchema, protocol.NewEventMsg(1, nightshift.Event{
		Time: at, Kind: nightshift.EventPhase, RunID: "r1", Day: 2, From: &from, To: &to,
	})))
	require.NoError(t, roundTrip(t, eventSchema, protocol.NewEventMsg(2, nightshift.Event{
		Time: at, Kind: nightshift.EventFinished, RunID: "r1", Day: 2,
		Result: &nightshift.RunResult{
			RunID: "r1", Day: 2, Reason: nightshift.ReasonDayTransition, State: nightshift.StateDone,
			StartedAt: at, FinishedAt: at.Add(time.Second), Elapsed: time.Second, Ticks: 20,
			Stats: nightshift.Stats{Transfers: 4, Capped: true, CapReason: "outer_loops"},
		},
	})))
	require.NoError(t, roundTrip(t, eventSchema, protocol.NewEventMsg(3, nightshift.Event{
		Time: at, Kind: nightshift.EventRejected, Day: 2, Reason: nightshift.ReasonManual,
		Detail: nightshift.ErrBusy.Error(), Code: "BUSY",
	})))
	// A PHASE event must carry its states.
	require.Error(t, roundTrip(t, eventSchema, protocol.NewEventMsg(4, nightshift.Event{
		Time: at, Kind: nightshift.EventPhase, RunID: "r1", Day: 2,
	})))

	require.NoError(t, roundTrip(t, compile(t, "welcome.schema.json"), protocol.WelcomeMsg{
		Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "O1", StoreParams: params,
	}))
	require.NoError(t, roundTrip(t, compile(t, "bootstrap.schema.json"), protocol.BootstrapResponse{
		ProtocolVersion: protocol.Version, StoreID: "main", Tick: 42, StoreParams: params,
		Catalogs: protocol.CatalogDigests{
			ProductsDigest: "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
			LayoutDigest:   "fcde2b2edba56bf408601fb721fe9b5c338d10ee429ea04fae5511b68fbf8fb9",
		},
	}))
	require.NoError(t, roundTrip(t, compile(t, "error.schema.json"), protocol.NewErrorMsg(protocol.ErrBusy, "run in progress")))

	subSchema := compile(t, "subscribe.schema.json")
	require.NoError(t, roundTrip(t, subSchema, protocol.SubscribeMsg{
		Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Kinds: []string{"PHASE", "FINISHED"},
	}))
	require.Error(t, roundTrip(t, subSchema, protocol.SubscribeMsg{
		Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Kinds: []string{"NOPE"},
	}))
}
