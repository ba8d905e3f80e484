package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

func sampleEvent(kind claims.EventKind, who claims.Identity) claims.Event {
	return claims.Event{
		ID:         "evt-1",
		Kind:       kind,
		Who:        who,
		Proof:      claims.ProofID{0xab, 0xcd},
		Height:     42,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	event := sampleEvent(claims.EventClaimCreated, "alice")
	payload, err := Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(payload), `"proof":"0xabcd"`) {
		t.Fatalf("proof should be hex encoded: %s", payload)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != event.ID || decoded.Height != 42 || !decoded.Proof.Equal(event.Proof) || !decoded.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected event: %+v", decoded)
	}
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
}

func TestFanoutRequiredFailureStopsBestEffort(t *testing.T) {
	var bestEffortCalls int
	fanout, err := NewFanout(
		Target{Name: "stream", BestEffort: true, Sink: claims.SinkFunc(func(context.Context, claims.Event) error {
			bestEffortCalls++
			return nil
		})},
		Target{Name: "broker", Sink: claims.SinkFunc(func(context.Context, claims.Event) error {
			return errors.New("connection reset")
		})},
	)
	if err != nil {
		t.Fatalf("new fanout: %v", err)
	}
	if fanout.Required() != "broker" {
		t.Fatalf("unexpected required sink %q", fanout.Required())
	}

	err = fanout.Deposit(context.Background(), sampleEvent(claims.EventClaimCreated, "alice"))
	if xerrors.CodeOf(err) != xerrors.CodeEventDelivery {
		t.Fatalf("expected event delivery failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "sink broker") {
		t.Fatalf("error should name the failing sink: %v", err)
	}
	if bestEffortCalls != 0 {
		t.Fatalf("best-effort sinks must not run after a required failure")
	}
}

func TestFanoutIgnoresBestEffortFailure(t *testing.T) {
	recorder := NewRecorder(4)
	fanout, err := NewFanout(
		Target{Name: "recorder", Sink: recorder},
		Target{Name: "flaky", BestEffort: true, Sink: claims.SinkFunc(func(context.Context, claims.Event) error {
			return errors.New("dropped")
		})},
		Target{Name: "nil"},
	)
	if err != nil {
		t.Fatalf("new fanout: %v", err)
	}
	if err := fanout.Deposit(context.Background(), sampleEvent(claims.EventClaimRevoked, "bob")); err != nil {
		t.Fatalf("best-effort failures must not surface: %v", err)
	}
	if recorder.Len() != 1 {
		t.Fatalf("required sink not called")
	}
	if names := fanout.Names(); len(names) != 2 {
		t.Fatalf("nil sinks should be skipped: %v", names)
	}
}

func TestFanoutAllowsSingleRequiredTarget(t *testing.T) {
	_, err := NewFanout(
		Target{Name: "redis", Sink: NewRecorder(1)},
		Target{Name: "rabbitmq", Sink: NewRecorder(1)},
	)
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure for two required sinks, got %v", err)
	}

	fanout, err := NewFanout(Target{Name: "hub", BestEffort: true, Sink: NewRecorder(1)})
	if err != nil {
		t.Fatalf("best-effort only fanout: %v", err)
	}
	if fanout.Required() != "" {
		t.Fatalf("no required sink expected, got %q", fanout.Required())
	}
}

func TestRolledBackClaimPublishesNothing(t *testing.T) {
	ctx := context.Background()
	published := NewRecorder(8)
	fanout, err := NewFanout(
		Target{Name: "redis", BestEffort: true, Sink: published},
		Target{Name: "rabbitmq", Sink: claims.SinkFunc(func(context.Context, claims.Event) error {
			return errors.New("broker down")
		})},
	)
	if err != nil {
		t.Fatalf("new fanout: %v", err)
	}
	ledger, err := claims.New(claims.NewMemoryStore(), claims.NewSequenceClock(0), fanout)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	proof := claims.ProofID{0x01}
	if err := ledger.CreateClaim(ctx, "0xA", proof); xerrors.CodeOf(err) != xerrors.CodeEventDelivery {
		t.Fatalf("expected event delivery failure, got %v", err)
	}
	if _, err := ledger.Claim(ctx, proof); xerrors.CodeOf(err) != claims.CodeNoSuchProof {
		t.Fatalf("claim should be rolled back, got %v", err)
	}
	if published.Len() != 0 {
		t.Fatalf("rolled back claim leaked %d events", published.Len())
	}
}

func TestRecorderKeepsMostRecent(t *testing.T) {
	recorder := NewRecorder(3)
	for i := 0; i < 5; i++ {
		event := sampleEvent(claims.EventClaimCreated, "alice")
		event.Height = claims.BlockHeight(i + 1)
		_ = recorder.Deposit(context.Background(), event)
	}
	all := recorder.Events()
	if len(all) != 3 || all[0].Height != 3 || all[2].Height != 5 {
		t.Fatalf("unexpected retained events: %+v", all)
	}
	latest := recorder.Latest(2)
	if len(latest) != 2 || latest[0].Height != 5 || latest[1].Height != 4 {
		t.Fatalf("unexpected latest events: %+v", latest)
	}
}

func TestAuditSinkWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewAuditSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := sink.Deposit(context.Background(), sampleEvent(claims.EventClaimTransferred, "carol")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	line := buf.String()
	for _, want := range []string{`"msg":"ledger_event"`, `"kind":"ClaimTransferred"`, `"proof":"0xabcd"`, `"height":42`} {
		if !strings.Contains(line, want) {
			t.Fatalf("audit line missing %s: %s", want, line)
		}
	}
}

func TestHubStreamsFilteredEvents(t *testing.T) {
	hub := NewHub(8)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?kind=ClaimCreated"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx := context.Background()
	_ = hub.Deposit(ctx, sampleEvent(claims.EventClaimRevoked, "alice"))
	_ = hub.Deposit(ctx, sampleEvent(claims.EventClaimCreated, "bob"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	event, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Kind != claims.EventClaimCreated || event.Who != "bob" {
		t.Fatalf("filter not applied, got %+v", event)
	}
}

func TestRedisSinkKeepsCappedHistory(t *testing.T) {
	addr := os.Getenv("POE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	list := fmt.Sprintf("poe-test-events-%d", time.Now().UnixNano())
	defer client.Del(ctx, list)

	sink := NewRedisSinkWithClient(client, RedisConfig{List: list, Channel: list, MaxLen: 2})
	for i := 0; i < 3; i++ {
		event := sampleEvent(claims.EventClaimCreated, "alice")
		event.ID = fmt.Sprintf("evt-%d", i)
		if err := sink.Deposit(ctx, event); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	var history History = sink
	recent, err := history.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "evt-2" || recent[1].ID != "evt-1" {
		t.Fatalf("unexpected history: %+v", recent)
	}
}
