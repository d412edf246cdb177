package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/metrics"
	"github.com/matheus3301/parley/internal/rpc"
	"github.com/matheus3301/parley/internal/session"
	"github.com/matheus3301/parley/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

// fakeBackend answers the REST session endpoints and the GraphQL operations
// the daemon issues.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/sign-in", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "refresh", Value: "r1", Path: "/", HttpOnly: true})
		_, _ = w.Write([]byte(`{"accessToken":"tok","user":{"id":"u1","username":"ada"}}`))
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"tok2"}`))
	})
	mux.HandleFunc("/auth/sign-out", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		switch req.OperationName {
		case "Conversations":
			_, _ = w.Write([]byte(`{"data":{"conversations":[{"id":"1","participants":[{"id":"u1"},{"id":"u2"}],"messages":[]}]}}`))
		case "SendMessage":
			text, _ := req.Variables["text"].(string)
			resp, _ := json.Marshal(map[string]any{"data": map[string]any{"sendMessage": map[string]any{
				"id": "55", "senderId": "u1", "text": text, "sentAt": time.Now().UTC().Format(time.RFC3339),
			}}})
			_, _ = w.Write(resp)
		default:
			_, _ = w.Write([]byte(`{"errors":[{"message":"unknown operation"}]}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// testHome points PARLEY_HOME at a short temp dir to stay under the
// 104-char Unix socket limit on macOS.
func testHome(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "parley-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("PARLEY_HOME", dir)
}

func testConfig(backendURL string) *config.Config {
	cfg := config.Default()
	cfg.Backend.URL = backendURL
	cfg.Log.Level = "error"
	cfg.Outbox.SendTimeout = config.Duration{Duration: 5 * time.Second}
	return cfg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFxModuleWiring(t *testing.T) {
	p := Params{SessionName: "fxtest", Config: config.Default()}
	if err := fx.ValidateApp(Module(p), fx.NopLogger); err != nil {
		t.Fatalf("fx graph does not resolve: %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	testHome(t)
	backend := fakeBackend(t)

	var b *bus.Bus
	app := fxtest.New(t,
		Module(Params{SessionName: "test", Config: testConfig(backend.URL)}),
		fx.Populate(&b),
		fx.NopLogger,
	)
	app.RequireStart()
	defer app.RequireStop()

	if _, held := lock.Held(session.Dir("test")); !held {
		t.Error("session lock not held while daemon runs")
	}
	info, err := os.Stat(session.SocketPath("test"))
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	c, err := rpc.Dial(session.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Status != string(status.SignedOut) {
		t.Errorf("status = %s, want SIGNED_OUT after boot", st.Status)
	}

	if _, err := c.SignIn(ctx, "ada@example.test", "pw"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	// Sign-in triggers a pull.
	eventually(t, "conversations after sign-in", func() bool {
		list, err := c.Conversations(ctx)
		return err == nil && len(list) == 1
	})

	base := b.Subscribers()
	w, err := c.Watch(ctx, bus.KindMessageConfirmed)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "watch subscription", func() bool { return b.Subscribers() > base })

	pending, err := c.Send(ctx, rpc.SendRequest{ConversationID: "1", Text: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if pending.Sent {
		t.Error("Send() returned a confirmed message, want pending")
	}
	env, err := w.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if env.Kind != bus.KindMessageConfirmed || env.Session != "test" {
		t.Errorf("envelope = %+v", env)
	}

	conv, err := c.Conversation(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].ID != "55" || !conv.Messages[0].Sent {
		t.Errorf("messages = %+v", conv.Messages)
	}

	// Write-through reaches the cache.
	eventually(t, "cached message", func() bool {
		st, err := c.Status(ctx)
		return err == nil && st.Messages == 1 && st.PendingSends == 0
	})

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	list, err := c.Conversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("conversations after sign-out = %d, want 0", len(list))
	}
	st, err = c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != string(status.SignedOut) || st.Conversations != 0 || st.User != nil {
		t.Errorf("status after sign-out = %+v", st)
	}
}

func TestSecondDaemonRefusedByLock(t *testing.T) {
	testHome(t)
	backend := fakeBackend(t)
	p := Params{SessionName: "dup", Config: testConfig(backend.URL)}

	first := fxtest.New(t, Module(p), fx.NopLogger)
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(Module(p), fx.NopLogger)
	if second.Err() == nil {
		t.Fatal("second daemon started for the same session")
	}
	if !strings.Contains(second.Err().Error(), "session lock held") {
		t.Errorf("error = %v, want lock error", second.Err())
	}

	// The first daemon's socket must survive the failed start.
	if _, err := os.Stat(session.SocketPath("dup")); err != nil {
		t.Errorf("socket removed by second daemon: %v", err)
	}
}

func TestMetricsServer(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Addr = "127.0.0.1:0"
	m := metrics.New()
	m.SendDone("ok")

	s := NewMetricsServer(cfg, m, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `parley_message_send_total{result="ok"} 1`) {
		t.Errorf("metrics body missing send counter:\n%s", body)
	}
}

func TestMetricsServerDisabled(t *testing.T) {
	s := NewMetricsServer(config.Default(), metrics.New(), zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop(context.Background())
}

func TestServerStopRemovesSocket(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "parley-srv-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()
	socketPath := filepath.Join(dir, "d.sock")

	srv, err := NewServer(Params{SessionName: "srv", SocketPath: socketPath}, zap.NewNop(), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if _, err := os.Stat(socketPath); err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop")
	}
}
