package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/device"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/config"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/logging"
	"github.com/9a4gl/centrometal-web-boiler/internal/portal"
)

// writeConfig writes a minimal valid configuration pointing at webroot
// and returns its path. MQTT, InfluxDB and the API are disabled.
func writeConfig(t *testing.T, webroot string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	configContent := `
portal:
  webroot: "` + webroot + `"
  username: "user@example.com"
  password: "secret"
  timeout: 5

stomp:
  url: "ws://127.0.0.1:1/ws"

session:
  auto_reconnect: false

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("WEBBOILER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingCredentials verifies validation runs before any login.
func TestRun_MissingCredentials(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(configPath, []byte("portal:\n  username: \"\"\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("WEBBOILER_CONFIG", configPath)
	t.Setenv("WEBBOILER_USERNAME", "")
	t.Setenv("WEBBOILER_PASSWORD", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without portal credentials")
	}
}

// TestRun_LoginFails verifies a portal error aborts startup.
func TestRun_LoginFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Setenv("WEBBOILER_CONFIG", writeConfig(t, srv.URL))
	t.Setenv("WEBBOILER_USERNAME", "")
	t.Setenv("WEBBOILER_PASSWORD", "")
	t.Setenv("WEBBOILER_WEBROOT", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if !errors.Is(err, portal.ErrUnexpectedStatus) {
		t.Fatalf("run() error = %v, want ErrUnexpectedStatus", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("WEBBOILER_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("WEBBOILER_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestHealthCheck_NoClients verifies optional clients are skipped.
func TestHealthCheck_NoClients(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil); err != nil {
		t.Errorf("healthCheck() = %v, want nil", err)
	}
}

// ============================================================================
// Startup and relogin sequencing
// ============================================================================

type fakeAccount struct {
	loginErr   error
	configOK   bool
	configErr  error
	startErr   error
	stopErr    error
	calls      []string
	autoReconn []bool
}

func (f *fakeAccount) Login(context.Context) error {
	f.calls = append(f.calls, "login")
	return f.loginErr
}

func (f *fakeAccount) Relogin(context.Context) error {
	f.calls = append(f.calls, "relogin")
	return f.loginErr
}

func (f *fakeAccount) GetConfiguration(context.Context) (bool, error) {
	f.calls = append(f.calls, "configuration")
	return f.configOK, f.configErr
}

func (f *fakeAccount) StartWebsocket(_ context.Context, _ device.UpdateFunc, autoReconnect bool) error {
	f.calls = append(f.calls, "websocket")
	f.autoReconn = append(f.autoReconn, autoReconnect)
	return f.startErr
}

func (f *fakeAccount) StopWebsocket() error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

func TestStopFeed(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test")
	account := &fakeAccount{stopErr: errors.New("socket gone")}

	stopFeed(account, log)

	if len(account.calls) != 1 || account.calls[0] != "stop" {
		t.Errorf("calls = %v, want [stop]", account.calls)
	}
	if !bytes.Contains(buf.Bytes(), []byte("error stopping live feed")) {
		t.Errorf("log output = %q, want the stop error logged", buf.String())
	}
}

func TestLoadAccount(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name    string
		account *fakeAccount
		wantErr error
		calls   int
	}{
		{"success", &fakeAccount{configOK: true}, nil, 2},
		{"login fails", &fakeAccount{loginErr: errBoom}, errBoom, 1},
		{"configuration fails", &fakeAccount{configErr: errBoom}, errBoom, 2},
		{"no installations", &fakeAccount{}, errNoInstallations, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loadAccount(context.Background(), tt.account)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("loadAccount() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("loadAccount() = %v, want %v", err, tt.wantErr)
			}
			if len(tt.account.calls) != tt.calls {
				t.Errorf("calls = %v, want %d", tt.account.calls, tt.calls)
			}
		})
	}
}

func TestRelogin_Sequence(t *testing.T) {
	account := &fakeAccount{configOK: true}

	if err := relogin(context.Background(), account, true); err != nil {
		t.Fatalf("relogin() = %v", err)
	}

	want := []string{"relogin", "configuration", "websocket"}
	if len(account.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", account.calls, want)
	}
	for i := range want {
		if account.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, account.calls[i], want[i])
		}
	}
	if !account.autoReconn[0] {
		t.Error("StartWebsocket should receive autoReconnect=true")
	}
}

func TestRelogin_StopsOnLoginError(t *testing.T) {
	account := &fakeAccount{loginErr: errors.New("rejected")}

	if err := relogin(context.Background(), account, false); err == nil {
		t.Fatal("relogin() should fail")
	}
	if len(account.calls) != 1 {
		t.Errorf("calls = %v, want only relogin", account.calls)
	}
}
