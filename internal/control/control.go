// Package control exports the sidecar host on the D-Bus session bus so a GUI
// shell (or busctl) can read the backend status and ask the host to exit.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog"

	"github.com/mbrock/sidecar/internal/supervisor"
)

const (
	DefaultBusName = "sh.swa.Sidecar"
	Interface      = "sh.swa.Sidecar"
	Path           = dbus.ObjectPath("/sh/swa/Sidecar")

	// ExitedSignal carries the backend exit code when it has been reaped.
	ExitedSignal = Interface + ".Exited"
)

// StatusSource reports the supervised backend's state.
type StatusSource interface {
	Status() supervisor.Status
}

// Service implements the D-Bus interface.
type Service struct {
	status StatusSource
	exits  chan<- supervisor.ExitRequest
}

// NewService creates a Service. Shutdown calls are delivered on exits.
func NewService(status StatusSource, exits chan<- supervisor.ExitRequest) *Service {
	return &Service{status: status, exits: exits}
}

// Gist returns the backend status as JSON.
func (s *Service) Gist() (string, *dbus.Error) {
	b, err := json.Marshal(s.status.Status())
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(b), nil
}

// Shutdown asks the host to stop the backend and exit. It returns at once;
// a request made while another is pending is dropped.
func (s *Service) Shutdown(reason string) *dbus.Error {
	if reason == "" {
		reason = "dbus"
	}
	select {
	case s.exits <- supervisor.ExitRequest{Reason: reason}:
	default:
	}
	return nil
}

// Conn is the part of *dbus.Conn used here.
type Conn interface {
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

var _ Conn = (*dbus.Conn)(nil)

// Export claims name on conn and exports svc with its introspection data.
func Export(conn Conn, name string, svc *Service) error {
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting bus name %s: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s is already taken", name)
	}

	if err := conn.Export(svc, Path, Interface); err != nil {
		return fmt.Errorf("exporting %s: %w", Path, err)
	}

	node := &introspect.Node{
		Name: string(Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: Interface,
				Methods: []introspect.Method{
					{Name: "Gist", Args: []introspect.Arg{{Direction: "out", Type: "s"}}},
					{Name: "Shutdown", Args: []introspect.Arg{{Name: "reason", Direction: "in", Type: "s"}}},
				},
				Signals: []introspect.Signal{
					{Name: "Exited", Args: []introspect.Arg{{Name: "exit_code", Type: "i"}}},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("exporting introspection: %w", err)
	}
	return nil
}

// Connect exports svc on the session bus. The caller closes the connection.
func Connect(name string, svc *Service) (*dbus.Conn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to D-Bus: %w", err)
	}
	if err := Export(conn, name, svc); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// EmitExited waits for h to finish and emits ExitedSignal with its exit code.
// It returns early when ctx ends.
func EmitExited(ctx context.Context, conn Conn, h *supervisor.Handle, log zerolog.Logger) {
	select {
	case <-h.Done():
	case <-ctx.Done():
		return
	}
	code, _ := h.ExitCode()
	if err := conn.Emit(Path, ExitedSignal, int32(code)); err != nil {
		log.Warn().Err(err).Msg("Failed to emit D-Bus exit signal")
	}
}
