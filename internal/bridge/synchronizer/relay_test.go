package synchronizer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/auth"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/credential"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/stream"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
	"github.com/autopeer-io/fordpass-bridge/pkg/region"
)

// deliver hands frame to the read loop, failing when the stream closed instead.
func deliver(t *testing.T, conn *fakeStream, frame stream.Frame) {
	t.Helper()
	select {
	case conn.frames <- frame:
	case <-conn.closed:
		t.Fatalf("stream closed before %s frame was read", frame.Kind)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out delivering %s frame", frame.Kind)
	}
}

func TestRelayRenewalKeepsStreamOpen(t *testing.T) {
	var relayCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/auth/oidc/token" {
			http.NotFound(w, r)
			return
		}
		relayCalls.Add(1)
		io.WriteString(w, `{"access_token":"r2","refresh_token":"rr2","expires_in":1800}`)
	}))
	defer srv.Close()
	client := transport.NewClient(region.Region{AppID: "APP"},
		transport.WithHTTPClient(srv.Client()),
		transport.WithEndpoints(transport.Endpoints{
			Foundational: srv.URL + "/foundational",
			Accounts:     srv.URL + "/accounts",
		}))

	key := credential.Key{User: "driver@example.com", Region: "deu"}
	store := credential.NewFileStore(t.TempDir())
	rec := &credential.Record{
		Primary: credential.TokenPair{Access: "p1", Refresh: "pr1", Expiry: credential.EpochOf(now.Add(time.Hour))},
		Relay:   credential.TokenPair{Access: "r1", Refresh: "rr1", Expiry: credential.EpochOf(now.Add(40 * time.Second))},
	}
	if err := store.Save(context.Background(), key, rec); err != nil {
		t.Fatal(err)
	}

	clk := clocktesting.NewFakeClock(now)
	creds := auth.NewManager(client, store, key, auth.WithClock(clk), auth.WithSubject(testVIN))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.Watch(ctx, key, creds.Invalidate); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	conn := newFakeStream()
	var dialed []string
	dial := func(_ context.Context, relay string) (Stream, error) {
		dialed = append(dialed, relay)
		return conn, nil
	}
	s := New(Config{VIN: testVIN}, newFakeBackend(), creds, dial,
		state.NewDocument(state.DefaultMergeConfig()), WithClock(clk))
	t.Cleanup(s.shutdown)
	s.Document().SetDomain("metrics", state.MustParse(`{"odometer":{"value":1}}`))

	s.startAttempt(ctx)
	waitFor(t, "streaming", s.Streaming)
	if diff := cmp.Diff([]string{"r1"}, dialed); diff != "" {
		t.Errorf("dialled tokens (-want +got):\n%s", diff)
	}

	// The relay token expires in 40s, inside the refresh margin.
	deliver(t, conn, stream.Frame{Kind: stream.FrameEmpty})
	waitFor(t, "token handover", func() bool { return len(conn.sentTokens()) == 1 })
	deliver(t, conn, stream.Frame{Kind: stream.FrameStatus, Status: 202})

	// Let the watcher see the rename behind the bridge's own save.
	time.Sleep(300 * time.Millisecond)

	deliver(t, conn, stream.Frame{Kind: stream.FrameEmpty})
	deliver(t, conn, stream.Frame{Kind: stream.FrameEmpty})

	if conn.isClosed() || !s.Streaming() {
		t.Fatalf("stream dropped after relay renewal, state %s", s.State())
	}
	if diff := cmp.Diff([]string{"r2"}, conn.sentTokens()); diff != "" {
		t.Errorf("tokens handed to the stream (-want +got):\n%s", diff)
	}
	if got := creds.RelayToken(); got != "r2" {
		t.Errorf("RelayToken = %q, want r2", got)
	}
	if n := relayCalls.Load(); n != 1 {
		t.Errorf("relay exchanges = %d, want 1", n)
	}
	if creds.CommError() || creds.ReauthRequired() {
		t.Errorf("CommError=%v ReauthRequired=%v, want both false", creds.CommError(), creds.ReauthRequired())
	}
}
