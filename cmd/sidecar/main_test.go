package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbrock/sidecar/internal/config"
	"github.com/mbrock/sidecar/internal/eventlog/zlog"
	"github.com/mbrock/sidecar/internal/server"
	"github.com/mbrock/sidecar/internal/supervisor"
)

const helperEnv = "SIDECAR_MAIN_HELPER"

// TestMain lets the test binary stand in for the backend executable.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		fmt.Println("ready")
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("SIDECAR_CONFIG_DIR", t.TempDir())
	t.Setenv("SIDECAR_CONFIG", "")
}

func TestRunHelp(t *testing.T) {
	isolate(t)
	if code := run([]string{"--help"}, &syncBuffer{}, make(chan supervisor.ExitRequest)); code != 0 {
		t.Fatalf("exit code %d, want 0", code)
	}
}

func TestRunBadFlag(t *testing.T) {
	isolate(t)
	var stderr syncBuffer
	if code := run([]string{"--no-such-flag"}, &stderr, make(chan supervisor.ExitRequest)); code != 2 {
		t.Fatalf("exit code %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "sidecar:") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunSupervisesBackendUntilExitRequest(t *testing.T) {
	isolate(t)
	t.Setenv(helperEnv, "1")

	var stderr syncBuffer
	exits := make(chan supervisor.ExitRequest, 1)
	done := make(chan int, 1)
	go func() {
		done <- run([]string{
			"--backend", os.Args[0],
			"--dbus=false",
			"--journal=off",
			"--log-format=json",
			"--grace-period=2s",
		}, &stderr, exits)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for !strings.Contains(stderr.String(), `"message":"ready"`) {
		if time.Now().After(deadline) {
			t.Fatalf("backend output never logged; stderr:\n%s", stderr.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	exits <- supervisor.ExitRequest{Reason: "test"}
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("exit code %d; stderr:\n%s", code, stderr.String())
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after exit request")
	}
	if !strings.Contains(stderr.String(), "Backend exited") {
		t.Fatalf("no exit logged; stderr:\n%s", stderr.String())
	}
}

func TestRunKeepsRunningWhenBackendIsMissing(t *testing.T) {
	isolate(t)

	var stderr syncBuffer
	exits := make(chan supervisor.ExitRequest, 1)
	done := make(chan int, 1)
	go func() {
		done <- run([]string{
			"--backend", "/nonexistent/python_backend/stock_server",
			"--dbus=false",
			"--journal=off",
			"--log-format=json",
		}, &stderr, exits)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for !strings.Contains(stderr.String(), "Failed to start backend") {
		if time.Now().After(deadline) {
			t.Fatalf("launch failure never logged; stderr:\n%s", stderr.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case code := <-done:
		t.Fatalf("host exited with %d after a launch failure", code)
	default:
	}

	exits <- supervisor.ExitRequest{Reason: "test"}
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("exit code %d", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after exit request")
	}
}

func TestOpenSinksWithoutJournal(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Journal = "off"
	hub := server.NewHub(1)

	sinks, err := openSinks(cfg, zerolog.Nop(), hub)
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	if len(sinks) != 2 || sinks[0] != hub {
		t.Fatalf("sinks = %#v", sinks)
	}
	if _, ok := sinks[1].(*zlog.Sink); !ok {
		t.Fatalf("second sink is %T, want *zlog.Sink", sinks[1])
	}
}
