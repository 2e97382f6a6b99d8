package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/mbrock/sidecar/internal/executor"
	"github.com/mbrock/sidecar/internal/supervisor"
)

type staticStatus supervisor.Status

func (s staticStatus) Status() supervisor.Status { return supervisor.Status(s) }

func TestGist(t *testing.T) {
	code := 0
	svc := NewService(staticStatus{State: "exited", PID: 1234, ExitCode: &code}, nil)

	gist, derr := svc.Gist()
	if derr != nil {
		t.Fatalf("Gist: %v", derr)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(gist), &got); err != nil {
		t.Fatalf("Gist is not JSON: %v", err)
	}
	if got["state"] != "exited" || got["pid"] != float64(1234) || got["exit_code"] != float64(0) {
		t.Fatalf("gist = %v", got)
	}
}

func TestShutdownQueuesOneRequest(t *testing.T) {
	exits := make(chan supervisor.ExitRequest, 1)
	svc := NewService(staticStatus{}, exits)

	if derr := svc.Shutdown("window closed"); derr != nil {
		t.Fatalf("Shutdown: %v", derr)
	}
	if derr := svc.Shutdown(""); derr != nil {
		t.Fatalf("second Shutdown: %v", derr)
	}

	req := <-exits
	if req.Reason != "window closed" {
		t.Fatalf("reason = %q", req.Reason)
	}
	select {
	case req := <-exits:
		t.Fatalf("unexpected second request %+v", req)
	default:
	}
}

type fakeConn struct {
	mu       sync.Mutex
	reply    dbus.RequestNameReply
	nameErr  error
	names    []string
	exported map[string]any
	emitted  []string
	values   [][]any
}

func newFakeConn() *fakeConn {
	return &fakeConn{reply: dbus.RequestNameReplyPrimaryOwner, exported: map[string]any{}}
}

func (c *fakeConn) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	return c.reply, c.nameErr
}

func (c *fakeConn) Export(v any, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exported[fmt.Sprintf("%s %s", path, iface)] = v
	return nil
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, name)
	c.values = append(c.values, values)
	return nil
}

func TestExport(t *testing.T) {
	conn := newFakeConn()
	svc := NewService(staticStatus{}, nil)
	if err := Export(conn, DefaultBusName, svc); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(conn.names) != 1 || conn.names[0] != DefaultBusName {
		t.Fatalf("requested names = %q", conn.names)
	}
	if conn.exported["/sh/swa/Sidecar sh.swa.Sidecar"] != svc {
		t.Fatalf("service not exported: %v", conn.exported)
	}
	if _, ok := conn.exported["/sh/swa/Sidecar org.freedesktop.DBus.Introspectable"]; !ok {
		t.Fatal("introspection not exported")
	}
}

func TestExportNameTaken(t *testing.T) {
	conn := newFakeConn()
	conn.reply = dbus.RequestNameReplyExists
	if err := Export(conn, DefaultBusName, NewService(staticStatus{}, nil)); err == nil {
		t.Fatal("expected error when name is taken")
	}

	conn = newFakeConn()
	conn.nameErr = errors.New("no bus")
	if err := Export(conn, DefaultBusName, NewService(staticStatus{}, nil)); err == nil {
		t.Fatal("expected error when RequestName fails")
	}
	if len(conn.exported) != 0 {
		t.Fatal("nothing should be exported without the name")
	}
}

func TestEmitExited(t *testing.T) {
	fx := executor.NewFakeExecutor()
	fx.RegisterCommand("crashy", func(ctx context.Context, stdout, stderr io.Writer, args []string) int {
		return 5
	})
	sup := supervisor.New(supervisor.Options{Config: supervisor.DefaultConfig(), Executor: fx})
	h, err := sup.Launch(context.Background(), "crashy", nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		EmitExited(context.Background(), conn, h, zerolog.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("EmitExited did not return")
	}

	if len(conn.emitted) != 1 || conn.emitted[0] != ExitedSignal {
		t.Fatalf("emitted = %q", conn.emitted)
	}
	if conn.values[0][0] != int32(5) {
		t.Fatalf("exit code = %v", conn.values[0])
	}
}
