package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/todoapi/pkg/api"
	"github.com/rhuss/todoapi/pkg/config"
	"github.com/rhuss/todoapi/pkg/storage/memory"
	"github.com/rhuss/todoapi/pkg/storage/sqlite"
	"github.com/rhuss/todoapi/pkg/users"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Auth.SecretKey = testSecret
	cfg.Auth.Users = []config.UserConfig{{Username: "alice", Password: "s3cret"}}
	cfg.Auth.APIKeys = []config.APIKeyConfig{{Key: "sk-ci-key", Subject: "ci"}}
	return &cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, nil, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "todoapi dev\n" {
		t.Errorf("output = %q, want %q", out, "todoapi dev\n")
	}
}

func TestUserAddCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "todo.db")
	cfgPath := writeConfig(t, `
storage:
  type: sqlite
  sqlite:
    path: `+dbPath+`
auth:
  secret_key: `+testSecret+`
`)

	out, err := execute(t, strings.NewReader("hunter2\n"),
		"useradd", "--config", cfgPath, "--username", "bob", "--password-stdin")
	if err != nil {
		t.Fatalf("useradd: %v", err)
	}
	if !strings.Contains(out, `user "bob" created`) {
		t.Errorf("output = %q", out)
	}

	_, err = execute(t, strings.NewReader("other\n"),
		"useradd", "--config", cfgPath, "--username", "bob", "--password-stdin")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second useradd error = %v, want already exists", err)
	}

	store, err := sqlite.New(context.Background(), sqlite.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer store.Close()

	u, err := store.FindByUsername(context.Background(), "bob")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if !users.CheckPassword(u.PasswordHash, "hunter2") {
		t.Error("stored hash does not match the first password")
	}
}

func TestUserAddRejectsMemoryStore(t *testing.T) {
	cfgPath := writeConfig(t, "auth:\n  secret_key: "+testSecret+"\n")

	out, err := execute(t, strings.NewReader("hunter2\n"),
		"useradd", "--config", cfgPath, "--username", "bob", "--password-stdin")
	if !errors.Is(err, errMemoryStore) {
		t.Fatalf("err = %v, want errMemoryStore", err)
	}
	if strings.Contains(out, "created") {
		t.Errorf("output = %q, must not report a created user", out)
	}
	for _, want := range []string{"auth.users", "sqlite"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestUserAddRequiresUsername(t *testing.T) {
	cfgPath := writeConfig(t, "auth:\n  secret_key: "+testSecret+"\n")
	if _, err := execute(t, strings.NewReader("pw\n"), "useradd", "--config", cfgPath); err == nil {
		t.Fatal("expected error without --username")
	}
}

func TestPromptPassword(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		got, err := promptPassword(strings.NewReader("pa ss\r\nignored\n"), io.Discard, true)
		if err != nil || got != "pa ss" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("stdin without newline", func(t *testing.T) {
		got, err := promptPassword(strings.NewReader("last"), io.Discard, true)
		if err != nil || got != "last" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("empty stdin", func(t *testing.T) {
		if _, err := promptPassword(strings.NewReader(""), io.Discard, true); err == nil {
			t.Error("expected error for empty input")
		}
	})

	t.Run("terminal", func(t *testing.T) {
		tests := []struct {
			name    string
			answers []string
			want    string
			wantErr bool
		}{
			{"matching", []string{"s3cret", "s3cret"}, "s3cret", false},
			{"mismatch", []string{"s3cret", "secret"}, "", true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r, w, err := os.Pipe()
				if err != nil {
					t.Fatal(err)
				}
				defer r.Close()
				defer w.Close()

				origRead, origTTY := readPassword, isTerminal
				defer func() { readPassword, isTerminal = origRead, origTTY }()
				isTerminal = func(int) bool { return true }
				answers := tt.answers
				readPassword = func(int) ([]byte, error) {
					a := answers[0]
					answers = answers[1:]
					return []byte(a), nil
				}

				var prompt bytes.Buffer
				got, err := promptPassword(r, &prompt, false)
				if (err != nil) != tt.wantErr {
					t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
				}
				if got != tt.want {
					t.Errorf("got %q, want %q", got, tt.want)
				}
				if !strings.Contains(prompt.String(), "Password: ") {
					t.Errorf("prompt = %q", prompt.String())
				}
			})
		}
	})
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := openStore(ctx, config.StorageConfig{Type: "memory", MaxNonces: 10})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("memory: got %T", s)
	}
	s.Close()

	s, err = openStore(ctx, config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db")}})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, ok := s.(*sqlite.Store); !ok {
		t.Errorf("sqlite: got %T", s)
	}
	s.Close()

	if _, err := openStore(ctx, config.StorageConfig{Type: "redis"}); err == nil {
		t.Error("expected error for unknown storage type")
	}
	if _, err := openStore(ctx, config.StorageConfig{Type: "postgres", Postgres: config.PostgresConfig{DSN: "::not a dsn::"}}); err == nil {
		t.Error("expected error for bad postgres DSN")
	}
}

// call sends a JSON request and decodes the envelope.
func call(t *testing.T, srv *httptest.Server, method, path, authz string, body any) (int, api.Envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env api.Envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func field(t *testing.T, env api.Envelope, key string) string {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %#v, want object", env.Data)
	}
	s, _ := m[key].(string)
	return s
}

func TestWiredServer(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	a, err := wire(ctx, cfg, discardLogger(), memory.New(100))
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer a.Close()

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	// Seeded user signs in.
	status, env := call(t, srv, http.MethodPost, "/api/v1/auth/nonces", "", nil)
	if status != http.StatusCreated {
		t.Fatalf("nonce status = %d", status)
	}
	nonce := field(t, env, "nonce")

	status, env = call(t, srv, http.MethodPost, "/api/v1/auth/signin", "",
		map[string]string{"username": "alice", "password": "s3cret", "nonce": nonce})
	if status != http.StatusOK {
		t.Fatalf("signin status = %d, env = %+v", status, env)
	}
	token := field(t, env, "access_token")

	status, _ = call(t, srv, http.MethodPost, "/api/v1/todos/", token,
		map[string]any{"data": map[string]any{"title": "wired", "description": "through main"}})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}

	// Service keys authenticate too.
	status, env = call(t, srv, http.MethodGet, "/api/v1/todos", "Bearer sk-ci-key", nil)
	if status != http.StatusOK {
		t.Fatalf("list with api key status = %d", status)
	}
	todos, _ := env.Data.(map[string]any)["todos"].([]any)
	if len(todos) != 1 {
		t.Errorf("todos = %d, want 1", len(todos))
	}

	status, _ = call(t, srv, http.MethodGet, "/api/v1/todos", "sk-wrong-key", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", status)
	}

	// Metrics are public.
	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestWiredServerCustomMetricsPath(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Metrics.Path = "/internal/metrics"

	a, err := wire(context.Background(), cfg, discardLogger(), memory.New(10))
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/internal/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("custom metrics path status = %d, want 200 without a token", resp.StatusCode)
	}
}

func TestWireRejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.SecretKey = "short"
	if _, err := wire(context.Background(), cfg, discardLogger(), memory.New(10)); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 0
	cfg.Auth.JanitorInterval = 10 * time.Millisecond

	a, err := wire(context.Background(), cfg, discardLogger(), memory.New(10))
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
