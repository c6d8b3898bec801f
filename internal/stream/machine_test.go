package stream

import (
	"testing"

	"github.com/codyseavey/zec-tracker/internal/models"
)

func TestMachine_FallsBackAfterMaxFailures(t *testing.T) {
	m := newMachine("usd", "usd")

	for i := 1; i < MaxFailures; i++ {
		if act := m.close(); act != actionReconnect {
			t.Fatalf("close #%d = %v, want reconnect", i, act)
		}
		if m.state != models.ConnectionConnecting {
			t.Fatalf("state after close #%d = %s, want connecting", i, m.state)
		}
	}
	if act := m.close(); act != actionPoll {
		t.Fatalf("close #%d = %v, want poll", MaxFailures, act)
	}
	if m.state != models.ConnectionPolling {
		t.Fatalf("state = %s, want degraded-polling", m.state)
	}

	// A failed probe while polling keeps polling
	m.connecting()
	if m.state != models.ConnectionPolling {
		t.Errorf("probe changed state to %s", m.state)
	}
	if act := m.close(); act != actionPoll {
		t.Errorf("close while polling = %v, want poll", act)
	}
}

func TestMachine_OpenResetsFailures(t *testing.T) {
	m := newMachine("usd", "usd")
	m.close()
	m.close()
	if wasPolling := m.open(); wasPolling {
		t.Error("open() reported polling before fallback")
	}
	if m.failures != 0 || m.state != models.ConnectionConnected {
		t.Fatalf("after open: failures=%d state=%s", m.failures, m.state)
	}
	m.close()
	if act := m.close(); act != actionReconnect {
		t.Error("failure budget was not reset by open")
	}
}

func TestMachine_OpenWhilePollingStopsPolling(t *testing.T) {
	m := newMachine("usd", "usd")
	for i := 0; i < MaxFailures; i++ {
		m.close()
	}
	if !m.open() {
		t.Error("open() should report that polling must stop")
	}
	if m.state != models.ConnectionConnected {
		t.Errorf("state = %s, want connected", m.state)
	}
}

func TestMachine_Message(t *testing.T) {
	m := newMachine("usd", "usd")

	tests := []struct {
		name      string
		raw       string
		ok        bool
		reason    string
		price     float64
		direction models.Direction
	}{
		{"first tick is flat", `{"e":"trade","s":"ZECUSDT","p":"64.20","q":"1.5"}`, true, "", 64.2, models.DirectionFlat},
		{"higher is up", `{"p":"64.25"}`, true, "", 64.25, models.DirectionUp},
		{"lower is down", `{"p":"63.90"}`, true, "", 63.9, models.DirectionDown},
		{"same is flat", `{"p":"63.90"}`, true, "", 63.9, models.DirectionFlat},
		{"not json", `hello`, false, "malformed", 0, ""},
		{"missing price", `{"e":"trade"}`, false, "malformed", 0, ""},
		{"unparseable price", `{"p":"abc"}`, false, "malformed", 0, ""},
		{"zero price", `{"p":"0"}`, false, "malformed", 0, ""},
		{"numeric price field", `{"p":64.2}`, false, "malformed", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, reason, ok := m.message([]byte(tt.raw))
			if ok != tt.ok || reason != tt.reason {
				t.Fatalf("message(%s) ok=%v reason=%q, want ok=%v reason=%q", tt.raw, ok, reason, tt.ok, tt.reason)
			}
			if !ok {
				return
			}
			if tick.Price != tt.price || tick.Direction != tt.direction {
				t.Errorf("tick = %+v, want price %v direction %s", tick, tt.price, tt.direction)
			}
		})
	}

	tick, _, ok := m.message([]byte(`{"p":"64.00"}`))
	if !ok || tick.Previous != 63.9 || tick.Direction != models.DirectionUp {
		t.Errorf("expected direction against last accepted price, got %+v", tick)
	}
}

func TestMachine_IgnoresOtherCurrency(t *testing.T) {
	m := newMachine("usd", "eur")
	if _, reason, ok := m.message([]byte(`{"p":"64.20"}`)); ok || reason != "currency" {
		t.Errorf("expected currency drop, got ok=%v reason=%q", ok, reason)
	}

	// Polled prices are fetched in the display currency
	tick, ok := m.poll(59.1)
	if !ok || tick.Currency != "eur" || !tick.Polled {
		t.Errorf("poll() = %+v ok=%v", tick, ok)
	}

	m.setDisplayCurrency("USD")
	tick, _, ok = m.message([]byte(`{"p":"64.20"}`))
	if !ok {
		t.Fatal("tick dropped after switching to the stream currency")
	}
	if tick.Previous != 0 || tick.Direction != models.DirectionFlat {
		t.Errorf("previous price should reset on currency switch, got %+v", tick)
	}
}
