// Package supervisor launches the backend sidecar process and supervises it
// for the lifetime of the host application.
//
// A Supervisor owns at most one child. In the supervised configuration
// (Config.TrackChild) it keeps the handle, relays every stdout and stderr line
// to the host's log sink and stops the child on Shutdown. In the
// fire-and-forget configuration the child inherits the host's output, outlives
// the host, and Shutdown does nothing.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mbrock/sidecar/internal/eventlog"
	"github.com/mbrock/sidecar/internal/executor"
	"github.com/mbrock/sidecar/internal/linereader"
	"github.com/mbrock/sidecar/internal/resolve"
)

// Config selects how the child is launched and how long shutdown may take.
type Config struct {
	// TrackChild retains the handle, drains output and enables Shutdown.
	TrackChild bool

	// PTY gives the child a pseudo-terminal as stdout (unix, tracked only).
	PTY bool

	// Encoding of the child's output; empty means UTF-8.
	Encoding string

	// MaxLineBytes splits longer output lines; 0 uses the reader default.
	MaxLineBytes int

	// KillOnParentDeath has the OS signal the child if the host dies
	// without shutting down (Linux, tracked only).
	KillOnParentDeath bool

	Dir string
	Env []string

	// GracePeriod is how long the child may take to exit after the polite
	// terminate before it is killed.
	GracePeriod time.Duration

	// KillTimeout is how long to wait for the child after the forced kill.
	KillTimeout time.Duration

	// DrainTimeout is how long to wait for remaining output after the child
	// has been reaped before the streams are closed.
	DrainTimeout time.Duration
}

// DefaultConfig returns the supervised configuration with default timeouts.
func DefaultConfig() Config {
	return Config{
		TrackChild:        true,
		KillOnParentDeath: true,
		GracePeriod:       5 * time.Second,
		KillTimeout:       3 * time.Second,
		DrainTimeout:      2 * time.Second,
	}
}

// ShutdownBudget is the longest Shutdown can take.
func (c Config) ShutdownBudget() time.Duration {
	return c.GracePeriod + c.KillTimeout + c.DrainTimeout
}

// Options holds the collaborators of a Supervisor.
type Options struct {
	Config   Config
	Executor executor.Executor // nil means executor.Default()
	Sink     eventlog.Sink     // nil discards output
	Logger   *zerolog.Logger   // nil disables operator logging

	// Stdout and Stderr receive the child's output in fire-and-forget mode.
	// nil means the host's own stdout and stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Supervisor launches and supervises one backend process.
type Supervisor struct {
	cfg    Config
	exec   executor.Executor
	sink   eventlog.Sink
	log    zerolog.Logger
	stdout io.Writer
	stderr io.Writer

	mu       sync.Mutex
	launched bool
	closing  bool
	starting chan struct{} // closed when the in-flight launch returns
	handle   *Handle
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		cfg:    opts.Config,
		exec:   opts.Executor,
		sink:   opts.Sink,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
	}
	if s.exec == nil {
		s.exec = executor.Default()
	}
	if s.sink == nil {
		s.sink = eventlog.Discard
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "supervisor").Logger()
	} else {
		s.log = zerolog.Nop()
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	return s
}

// Config returns the supervisor's configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Handle returns the tracked child, or nil in fire-and-forget mode or before
// a successful launch.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Launch spawns path with args. It fails with *LaunchError when the process
// cannot be started, with ErrAlreadyLaunched when this supervisor already
// started a child and with ErrShuttingDown once Shutdown has been called.
// Failures are logged and recorded in the sink; they never affect the host
// beyond the returned error.
func (s *Supervisor) Launch(ctx context.Context, path string, args []string) (*Handle, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.log.Debug().Str("path", path).Msg("Not launching backend, shutting down")
		return nil, ErrShuttingDown
	}
	if s.launched {
		s.mu.Unlock()
		return nil, ErrAlreadyLaunched
	}
	s.launched = true
	starting := make(chan struct{})
	s.starting = starting
	s.mu.Unlock()

	h, err := s.launch(ctx, path, args)

	s.mu.Lock()
	if err != nil {
		s.launched = false
	}
	s.starting = nil
	close(starting)
	s.mu.Unlock()

	if err != nil {
		s.launchFailed(err)
		return nil, err
	}
	return h, nil
}

func (s *Supervisor) launch(ctx context.Context, path string, args []string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}
	if _, err := linereader.Lookup(s.cfg.Encoding); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	track := s.cfg.TrackChild
	spec := executor.Spec{
		Path:              path,
		Args:              args,
		Dir:               s.cfg.Dir,
		Env:               s.cfg.Env,
		Capture:           track,
		PTY:               track && s.cfg.PTY,
		KillOnParentDeath: track && s.cfg.KillOnParentDeath,
	}
	if !track {
		spec.Stdout = s.stdout
		spec.Stderr = s.stderr
	}

	proc, err := s.exec.Start(spec)
	if err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	h := newHandle(uuid.NewString(), path, args, proc, track)

	s.log.Info().
		Str("instance", h.ID()).
		Int("pid", h.PID()).
		Str("path", path).
		Bool("tracked", track).
		Msg("Backend started")
	if err := eventlog.EmitStarted(s.sink, h.ID(), h.PID(), h.Command()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record backend start")
	}

	if !track {
		// Reap in the background so the host does not keep a zombie while it
		// runs. Nothing else is observed about this child.
		go func() {
			code, err := proc.Wait()
			h.markExited(code, err)
			close(h.done)
		}()
		return h, nil
	}

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	go s.supervise(h)
	return h, nil
}

func (s *Supervisor) launchFailed(err error) {
	if errors.Is(err, ErrAlreadyLaunched) {
		return
	}
	var lerr *LaunchError
	path := ""
	if errors.As(err, &lerr) {
		path = lerr.Path
	}
	s.log.Error().Err(err).Str("path", path).Msg("Failed to start backend")
	if serr := eventlog.EmitLaunchFailed(s.sink, path, err); serr != nil {
		s.log.Warn().Err(serr).Msg("Failed to record launch failure")
	}
}

// LaunchResult is delivered by LaunchAsync.
type LaunchResult struct {
	Path   string
	Handle *Handle
	Err    error
}

// LaunchAsync resolves the backend and launches it on a separate goroutine,
// so the caller's event loop is never blocked by path resolution or the
// spawn itself. The channel receives exactly one result.
func (s *Supervisor) LaunchAsync(ctx context.Context, r resolve.Resolver, args []string) <-chan LaunchResult {
	results := make(chan LaunchResult, 1)
	go func() {
		path, err := r.Resolve()
		if err != nil {
			lerr := &LaunchError{Err: err}
			s.launchFailed(lerr)
			results <- LaunchResult{Err: lerr}
			return
		}
		s.log.Info().Str("path", path).Msg("Launching backend")
		h, err := s.Launch(ctx, path, args)
		results <- LaunchResult{Path: path, Handle: h, Err: err}
	}()
	return results
}

// supervise drains both output streams and reaps the child.
func (s *Supervisor) supervise(h *Handle) {
	var g errgroup.Group
	g.Go(func() error { return s.drain(h, Stdout, h.proc.Stdout()) })
	g.Go(func() error { return s.drain(h, Stderr, h.proc.Stderr()) })

	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	code, waitErr := h.proc.Wait()
	state := h.markExited(code, waitErr)

	var drainErr error
	select {
	case drainErr = <-drained:
	case <-h.forceDrain:
		h.proc.CloseOutput()
		drainErr = <-drained
	}
	h.proc.CloseOutput()

	if drainErr != nil && !errors.Is(drainErr, os.ErrClosed) && !errors.Is(drainErr, io.ErrClosedPipe) {
		s.log.Warn().Err(drainErr).Str("instance", h.ID()).Msg("Reading backend output failed")
	}

	ev := s.log.Info()
	if state == StateExited && code != 0 {
		ev = s.log.Warn()
	}
	if waitErr != nil {
		ev = ev.Err(waitErr)
	}
	ev.Str("instance", h.ID()).
		Int("pid", h.PID()).
		Int("exit_code", code).
		Stringer("state", state).
		Int64("stdout_lines", h.Lines(Stdout)).
		Int64("stderr_lines", h.Lines(Stderr)).
		Msg("Backend exited")
	if err := eventlog.EmitExited(s.sink, h.ID(), h.PID(), code, state.String(), h.Command()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record backend exit")
	}

	close(h.done)
}

// drain relays every line of r to the sink, tagged with its stream.
func (s *Supervisor) drain(h *Handle, stream Stream, r io.Reader) error {
	if r == nil {
		return nil
	}
	fields := map[string]string{
		eventlog.FieldInstance: h.ID(),
		eventlog.FieldPID:      strconv.Itoa(h.PID()),
	}
	lr, err := linereader.New(linereader.Options{
		MaxLineBytes: s.cfg.MaxLineBytes,
		Encoding:     s.cfg.Encoding,
		OnDecodeError: func(derr *linereader.DecodeError) {
			s.decodeFailed(h, &StreamDecodeError{Stream: stream, Err: derr})
		},
	})
	if err != nil {
		return err
	}
	return lr.Process(r, func(text string) {
		h.countLine(stream)
		if err := eventlog.WriteOutput(s.sink, int(stream), text, fields); err != nil {
			s.log.Warn().Err(err).Stringer("stream", stream).Msg("Failed to relay backend output")
		}
	})
}

func (s *Supervisor) decodeFailed(h *Handle, err *StreamDecodeError) {
	s.log.Warn().Err(err).Str("instance", h.ID()).Stringer("stream", err.Stream).Msg("Backend output is not valid text")
	if serr := eventlog.EmitDecodeError(s.sink, h.ID(), int(err.Stream), err); serr != nil {
		s.log.Warn().Err(serr).Msg("Failed to record decode error")
	}
}

// Shutdown stops the tracked child: terminate the process group, wait up to
// GracePeriod, kill it, wait up to KillTimeout, then allow DrainTimeout for
// the remaining output. Every wait also ends when ctx does. Without a tracked
// child Shutdown is a no-op. A launch still in flight is waited for first, and
// every later Launch fails. A child that survives the kill yields a
// *ShutdownError, which is logged and recorded but never fatal.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	starting := s.starting
	s.mu.Unlock()

	if starting != nil {
		// A launch is in flight; its child, if any, is ours to stop.
		s.log.Debug().Msg("Waiting for backend launch to finish")
		select {
		case <-starting:
		case <-ctx.Done():
			go s.killLate(starting)
			err := &ShutdownError{Err: fmt.Errorf("waiting for launch: %w", ctx.Err())}
			s.log.Error().Err(err).Msg("Failed to stop backend")
			return err
		}
	}

	h := s.Handle()
	if h == nil {
		s.log.Debug().Msg("No tracked backend to stop")
		return nil
	}
	select {
	case <-h.Done():
		return nil
	default:
	}

	if h.Alive() {
		if err := s.stop(ctx, h); err != nil {
			s.log.Error().Err(err).Str("instance", h.ID()).Msg("Failed to stop backend")
			if serr := eventlog.EmitShutdownFailed(s.sink, h.ID(), h.PID(), err); serr != nil {
				s.log.Warn().Err(serr).Msg("Failed to record shutdown failure")
			}
			return err
		}
	}

	if !wait(ctx, h.Done(), s.cfg.DrainTimeout) {
		s.log.Warn().Str("instance", h.ID()).Msg("Backend output still open after exit, closing it")
		h.stopDraining()
		if !wait(context.Background(), h.Done(), s.cfg.DrainTimeout) {
			s.log.Warn().Str("instance", h.ID()).Msg("Abandoning backend output drain")
		}
	}
	return nil
}

// killLate kills the child of a launch that Shutdown gave up waiting for.
func (s *Supervisor) killLate(starting <-chan struct{}) {
	<-starting
	h := s.Handle()
	if h == nil || !h.Alive() {
		return
	}
	s.log.Warn().Str("instance", h.ID()).Int("pid", h.PID()).Msg("Killing backend started during shutdown")
	h.requestKill()
	if err := h.proc.Kill(); err != nil {
		s.log.Error().Err(err).Str("instance", h.ID()).Msg("Failed to kill backend")
	}
}

func (s *Supervisor) stop(ctx context.Context, h *Handle) error {
	h.requestKill()

	s.log.Info().Str("instance", h.ID()).Int("pid", h.PID()).Msg("Stopping backend")
	if err := h.proc.Terminate(); err != nil {
		s.log.Debug().Err(err).Msg("Terminate failed")
	}
	if wait(ctx, h.Exited(), s.cfg.GracePeriod) {
		return nil
	}

	s.log.Warn().
		Str("instance", h.ID()).
		Dur("grace_period", s.cfg.GracePeriod).
		Msg("Backend did not exit in time, killing it")
	killErr := h.proc.Kill()
	if wait(ctx, h.Exited(), s.cfg.KillTimeout) {
		return nil
	}

	errs := []error{ErrStillRunning}
	if killErr != nil {
		errs = append(errs, killErr)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return &ShutdownError{PID: h.PID(), Err: errors.Join(errs...)}
}

// ExitRequest asks the host to exit.
type ExitRequest struct {
	Reason string
}

// ShutdownOnExit blocks until an exit request arrives or ctx ends, then
// shuts the child down within Config.ShutdownBudget.
func (s *Supervisor) ShutdownOnExit(ctx context.Context, requests <-chan ExitRequest) error {
	select {
	case req := <-requests:
		s.log.Info().Str("reason", req.Reason).Msg("Exit requested")
	case <-ctx.Done():
		s.log.Info().Err(ctx.Err()).Msg("Host context ended")
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownBudget())
	defer cancel()
	return s.Shutdown(sctx)
}

// wait returns true if ch closes within d and before ctx ends.
func wait(ctx context.Context, ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
