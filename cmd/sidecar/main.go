// sidecar - launch and supervise a bundled backend process
//
// Usage:
//
//	sidecar [flags] [-- backend args...]
//
// The backend (python_backend/stock_server next to this executable unless
// configured otherwise) is started in the background. Its output goes to the
// journal or the log, and to HTTP clients of /lines and /output when --http is
// set. SIGINT, SIGTERM, the D-Bus Shutdown method and POST /shutdown stop the
// backend and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/mbrock/sidecar/internal/config"
	"github.com/mbrock/sidecar/internal/control"
	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/eventlog/journald"
	"github.com/mbrock/sidecar/internal/eventlog/zlog"
	"github.com/mbrock/sidecar/internal/logging"
	"github.com/mbrock/sidecar/internal/server"
	"github.com/mbrock/sidecar/internal/supervisor"
)

func main() {
	exits := make(chan supervisor.ExitRequest, 1)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	go func() {
		for sig := range sigChan {
			select {
			case exits <- supervisor.ExitRequest{Reason: sig.String()}:
			default:
			}
		}
	}()

	os.Exit(run(os.Args[1:], os.Stderr, exits))
}

// run starts the host and blocks until an exit request arrives on exits.
// It returns the process exit code.
func run(args []string, stderr io.Writer, exits chan supervisor.ExitRequest) int {
	cfg, fs, err := config.Resolve(args, os.LookupEnv)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "sidecar: %v\n", err)
		if fs != nil {
			fmt.Fprintf(stderr, "Run 'sidecar --help' for usage.\n")
		}
		return 2
	}

	log, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "sidecar: %v\n", err)
		return 2
	}

	hub := server.NewHub(cfg.HTTP.Backlog)
	sink, err := openSinks(cfg, log, hub)
	if err != nil {
		log.Error().Err(err).Msg("Opening log sinks")
		return 1
	}
	defer sink.Close()

	sup := supervisor.New(supervisor.Options{
		Config: cfg.SupervisorConfig(),
		Sink:   sink,
		Logger: &log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var conn control.Conn
	if cfg.DBus.Enabled {
		c, err := control.Connect(cfg.DBus.Name, control.NewService(sup, exits))
		if err != nil {
			// No session bus: run without D-Bus control.
			log.Warn().Err(err).Msg("D-Bus control unavailable")
		} else {
			defer c.Close()
			conn = c
			log.Info().Str("name", cfg.DBus.Name).Msg("D-Bus control exported")
		}
	}

	var srv *server.Server
	if cfg.HTTP.Listen != "" {
		ln, err := server.Listen(cfg.HTTP.Listen)
		if err != nil {
			log.Error().Err(err).Str("listen", cfg.HTTP.Listen).Msg("Opening HTTP listener")
			return 1
		}
		srv = server.New(sup, hub, exits, log)
		log.Info().Stringer("addr", ln.Addr()).Msg("HTTP server listening")
		go func() {
			if err := srv.Serve(ln); err != nil {
				log.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	launched := sup.LaunchAsync(ctx, cfg.Resolver(), cfg.Backend.Args)
	go func() {
		res := <-launched
		if res.Err != nil {
			// Already logged and recorded; the host keeps running.
			daemon.SdNotify(false, "STATUS=Backend failed to start")
			return
		}
		daemon.SdNotify(false, daemon.SdNotifyReady+"\nSTATUS=Backend running")
		if conn != nil && res.Handle.Tracked() {
			control.EmitExited(ctx, conn, res.Handle, log)
		}
	}()

	shutdownErr := sup.ShutdownOnExit(ctx, exits)
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	if srv != nil {
		hub.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown")
		}
		scancel()
	}

	if shutdownErr != nil {
		return 1
	}
	log.Info().Msg("Exiting")
	return 0
}

// openSinks assembles where backend output goes: the websocket hub always,
// plus journald when configured and reachable, otherwise the operator log.
func openSinks(cfg config.Config, log zerolog.Logger, hub *server.Hub) (eventlog.Multi, error) {
	sinks := []eventlog.Sink{hub}

	var journal eventlog.Sink
	switch cfg.Log.Journal {
	case "on":
		j, err := journald.Open(journald.DefaultIdentifier)
		if err != nil {
			return nil, err
		}
		journal = j
	case "auto":
		if j, err := journald.Open(journald.DefaultIdentifier); err == nil {
			journal = j
		} else {
			log.Debug().Err(err).Msg("Not logging backend output to journald")
		}
	}

	if journal != nil {
		sinks = append(sinks, journal)
	} else {
		sinks = append(sinks, zlog.New(log.With().Str("component", "backend").Logger()))
	}
	return eventlog.NewMulti(sinks...), nil
}
