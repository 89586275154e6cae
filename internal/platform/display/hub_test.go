package display

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeEvent(t *testing.T, data []byte) Event {
	t.Helper()
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	return ev
}

func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case data := <-c.Send:
			var ev Event
			json.Unmarshal(data, &ev)
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient("client-1", 8)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// A second unregister is a no-op.
	hub.Unregister(client)
}

func TestHub_PublishReachesAllClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := NewClient("a", 8)
	b := NewClient("b", 8)
	hub.Register(a)
	hub.Register(b)

	if err := hub.Publish(context.Background(), Event{Type: TypeRedirect, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	for _, c := range []*Client{a, b} {
		select {
		case data := <-c.Send:
			if ev := decodeEvent(t, data); ev.Type != TypeRedirect {
				t.Errorf("client %s: expected redirect, got %s", c.ID, ev.Type)
			}
		default:
			t.Errorf("client %s received nothing", c.ID)
		}
	}
}

func TestHub_ReplaysRetainedStateInOrder(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	for _, typ := range []string{TypePatient, TypeStatus, TypeRedirect, TypeButtons, TypeStatus} {
		hub.Publish(context.Background(), Event{Type: typ, Data: json.RawMessage(`"` + typ + `"`)})
	}

	late := NewClient("late", 8)
	hub.Register(late)

	got := drain(late)
	want := []string{TypeButtons, TypeStatus, TypePatient}
	if len(got) != len(want) {
		t.Fatalf("expected %d replayed events, got %d", len(want), len(got))
	}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Errorf("replay %d: expected %s, got %s", i, typ, got[i].Type)
		}
	}
	if _, ok := hub.retainedEvent(TypeRedirect); ok {
		t.Error("redirect must not be retained")
	}
}

func TestHub_SubscribeFilters(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient("c", 8)
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TypePatient}})
	hub.Publish(context.Background(), Event{Type: TypeStatus})
	hub.Publish(context.Background(), Event{Type: TypePatient})

	got := drain(client)
	if len(got) != 1 || got[0].Type != TypePatient {
		t.Fatalf("expected only patient event, got %v", got)
	}
}

func TestHub_UnsubscribeFilters(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient("c", 8)
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TypeStatus}})
	hub.ProcessMessage(client, ClientMessage{Action: "bogus"})
	hub.Publish(context.Background(), Event{Type: TypeStatus})
	hub.Publish(context.Background(), Event{Type: TypeButtons})

	got := drain(client)
	if len(got) != 1 || got[0].Type != TypeButtons {
		t.Fatalf("expected only buttons event, got %v", got)
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient("slow", 1)
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(context.Background(), Event{Type: TypeStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full client buffer")
	}
}
