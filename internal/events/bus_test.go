package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"ingest.jobs.j1.running", "ingest.jobs.j1.running", true},
		{"ingest.jobs.j1.running", "ingest.jobs.j1.failed", false},
		{"ingest.jobs.j1.*", "ingest.jobs.j1.running", true},
		{"ingest.jobs.j1.*", "ingest.jobs.j2.running", false},
		{"ingest.jobs.j1.*", "ingest.jobs.j1.stage.extract", false},
		{"ingest.jobs.>", "ingest.jobs.j1.running", true},
		{"ingest.jobs.>", "ingest.jobs", false},
		{"ingest.*.j1.running", "ingest.jobs.j1.running", true},
		{"ingest.jobs.j1", "ingest.jobs.j1.running", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject),
			"pattern %q subject %q", tt.pattern, tt.subject)
	}
}

func TestJobSubjects(t *testing.T) {
	assert.Equal(t, "ingest.jobs.j42.succeeded", JobSubject("j42", "succeeded"))
	assert.True(t, matchSubject(JobWildcard("j42"), JobSubject("j42", "running")))
	assert.False(t, matchSubject(JobWildcard("j42"), JobSubject("j7", "running")))
}

func TestInprocPublishSubscribe(t *testing.T) {
	bus := NewInprocBus()
	defer bus.Close()

	ch, unsub, err := bus.Subscribe(JobWildcard("j1"))
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, bus.Publish(context.Background(), JobSubject("j1", "running"), []byte(`{"state":"running"}`)))
	require.NoError(t, bus.Publish(context.Background(), JobSubject("j2", "running"), []byte(`{}`)))

	select {
	case msg := <-ch:
		assert.Equal(t, "ingest.jobs.j1.running", msg.Subject)
		assert.JSONEq(t, `{"state":"running"}`, string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message for other job: %s", msg.Subject)
	default:
	}
}

func TestInprocSlowSubscriberDropsOldest(t *testing.T) {
	bus := NewInprocBus()
	defer bus.Close()

	ch, unsub, err := bus.Subscribe("ingest.jobs.>")
	require.NoError(t, err)
	defer unsub()

	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		require.NoError(t, bus.Publish(context.Background(),
			JobSubject("j1", "running"), []byte(fmt.Sprintf("%d", i))))
	}

	var got []string
	for {
		select {
		case msg := <-ch:
			got = append(got, string(msg.Data))
			continue
		default:
		}
		break
	}

	require.Len(t, got, subscriberBuffer)
	// The oldest messages were dropped, the newest survived.
	assert.Equal(t, fmt.Sprintf("%d", total-1), got[len(got)-1])
	assert.NotEqual(t, "0", got[0])
}

func TestInprocUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInprocBus()
	defer bus.Close()

	ch, unsub, err := bus.Subscribe("ingest.jobs.>")
	require.NoError(t, err)

	unsub()
	unsub() // idempotent

	require.NoError(t, bus.Publish(context.Background(), JobSubject("j1", "queued"), nil))

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
}

func TestInprocCloseRejectsFurtherUse(t *testing.T) {
	bus := NewInprocBus()
	ch, _, err := bus.Subscribe("ingest.jobs.>")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, open := <-ch
	assert.False(t, open)

	assert.ErrorIs(t, bus.Publish(context.Background(), "ingest.jobs.j1.queued", nil), ErrBusClosed)
	_, _, err = bus.Subscribe("ingest.jobs.>")
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestInprocPublishHonorsContext(t *testing.T) {
	bus := NewInprocBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Publish(ctx, "ingest.jobs.j1.queued", nil), context.Canceled)
}

// startTestNATSServer starts an embedded NATS server on a random port.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSBusRoundTrip(t *testing.T) {
	server := startTestNATSServer(t)

	bus, err := ConnectNATS(server.ClientURL())
	require.NoError(t, err)
	defer bus.Close()

	ch, unsub, err := bus.Subscribe(JobWildcard("j9"))
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, bus.Publish(context.Background(), JobSubject("j9", "succeeded"), []byte(`{"ok":true}`)))

	select {
	case msg := <-ch:
		assert.Equal(t, "ingest.jobs.j9.succeeded", msg.Subject)
		assert.JSONEq(t, `{"ok":true}`, string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered over NATS")
	}
}

func TestNATSBusWrappedConnection(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	bus := NewNATSBus(nc)
	require.NoError(t, bus.Close())
	assert.False(t, nc.IsClosed(), "wrapped connection stays open after bus close")
}
