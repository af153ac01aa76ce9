package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/seantiz/fathom-train/internal/marionette"
)

// Config describes how to launch the controlled browser.
type Config struct {
	// Binary is the path to the Firefox executable.
	Binary string

	// Headless runs the browser without a display surface.
	Headless bool

	// Port is the Marionette port. Zero picks a free loopback port.
	Port int

	// HandshakeTimeout bounds launch plus session negotiation.
	// Zero uses DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Args are appended to the browser command line.
	Args []string

	// TempDir holds the throwaway profile. Empty uses os.TempDir.
	TempDir string

	// ShutdownGrace is how long Close waits for the browser to quit on its
	// own before killing it. Zero uses the package default.
	ShutdownGrace time.Duration

	// Stdout and Stderr receive browser output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Session is a running browser process with an active Marionette session.
// It is used by a single goroutine.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state      State
	cmd        *exec.Cmd
	exited     chan struct{} // closed when the process has been reaped
	waitErr    error
	conn       *marionette.Conn
	id         string
	profileDir string
}

// newSessionResponse is the body of a WebDriver:NewSession reply.
type newSessionResponse struct {
	SessionID    string         `json:"sessionId"`
	Capabilities map[string]any `json:"capabilities"`
}

// Start launches the browser and negotiates a Marionette session. On failure
// everything acquired so far is released and a *StartError is returned.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	start := time.Now()

	if err := validateBinary(cfg.Binary); err != nil {
		sessionStartsTotal.WithLabelValues(ReasonInvalidBinary).Inc()
		return nil, &StartError{Reason: ReasonInvalidBinary, Err: err}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = gracefulShutdownTimeout
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
		state:  StateUninitialized,
		exited: make(chan struct{}),
	}

	if reason, err := s.launch(); err != nil {
		s.Close()
		sessionStartsTotal.WithLabelValues(reason).Inc()
		return nil, &StartError{Reason: reason, Err: err}
	}

	if err := s.handshake(ctx); err != nil {
		s.Close()
		sessionStartsTotal.WithLabelValues(ReasonHandshakeFailed).Inc()
		return nil, &StartError{Reason: ReasonHandshakeFailed, Err: err}
	}

	if err := s.transition(StateActive); err != nil {
		s.Close()
		return nil, &StartError{Reason: ReasonHandshakeFailed, Err: err}
	}
	activeSessions.Inc()
	sessionStartsTotal.WithLabelValues(statusStarted).Inc()
	sessionStartDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("browser session started",
		"session_id", s.id,
		"pid", s.PID(),
		"port", s.cfg.Port,
		"headless", s.cfg.Headless,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return s, nil
}

func validateBinary(path string) error {
	if path == "" {
		return errors.New("binary path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat binary: %w", err)
	}
	if !isExecutable(info) {
		return fmt.Errorf("%s is not an executable file", path)
	}
	return nil
}

// launch prepares the profile and starts the browser process. On failure it
// also returns the start failure reason.
func (s *Session) launch() (string, error) {
	if err := s.transition(StateHandshaking); err != nil {
		return ReasonHandshakeFailed, err
	}

	if s.cfg.Port == 0 {
		port, err := freePort()
		if err != nil {
			return ReasonHandshakeFailed, err
		}
		s.cfg.Port = port
	}

	profileDir, err := createProfile(s.cfg.TempDir, s.cfg.Port)
	if err != nil {
		return ReasonHandshakeFailed, err
	}
	s.profileDir = profileDir

	args := []string{"-marionette", "-no-remote", "-profile", profileDir}
	if s.cfg.Headless {
		args = append(args, "-headless")
	}
	args = append(args, s.cfg.Args...)

	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	cmd.Env = os.Environ()
	if s.cfg.Headless {
		cmd.Env = append(cmd.Env, "MOZ_HEADLESS=1")
	}
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		// The file exists and has an exec bit but the OS refused to run it.
		return ReasonInvalidBinary, fmt.Errorf("start browser: %w", err)
	}
	s.cmd = cmd

	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	s.logger.Debug("browser process launched",
		"pid", cmd.Process.Pid,
		"profile", profileDir,
		"port", s.cfg.Port,
	)
	return "", nil
}

// handshake connects to Marionette and opens a WebDriver session. It gives
// up early if the browser process exits.
func (s *Session) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	go func() {
		select {
		case <-s.exited:
			cancel()
		case <-hctx.Done():
		}
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port))
	conn, err := marionette.Dial(hctx, addr)
	if err != nil {
		return s.explainHandshakeError(err)
	}
	s.conn = conn

	var resp newSessionResponse
	if err := conn.Command(hctx, marionette.CmdNewSession, map[string]any{}, &resp); err != nil {
		return s.explainHandshakeError(fmt.Errorf("new session: %w", err))
	}
	s.id = resp.SessionID
	return nil
}

func (s *Session) explainHandshakeError(err error) error {
	select {
	case <-s.exited:
		return fmt.Errorf("browser exited during handshake (%v): %w", s.waitErr, err)
	default:
		return err
	}
}

func (s *Session) transition(to State) error {
	if !ValidTransition(s.state, to) {
		return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// Command sends a Marionette command over the active session.
func (s *Session) Command(ctx context.Context, name string, params any, result any) error {
	if s.state != StateActive {
		return fmt.Errorf("%s: %w (state %s)", name, ErrNotActive, s.state)
	}
	return s.conn.Command(ctx, name, params, result)
}

// ID returns the Marionette session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// PID returns the browser process id, or 0 if it was never started.
func (s *Session) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// ProfileDir returns the throwaway profile directory.
func (s *Session) ProfileDir() string {
	return s.profileDir
}

// Close ends the session, terminates the browser, and removes the profile.
// It is safe on a partially started session and on repeated calls. Each step
// is attempted even if an earlier one fails; failures are logged and joined
// into the returned error.
func (s *Session) Close() error {
	if s == nil || s.state == StateClosed {
		return nil
	}
	cleanupStart := time.Now()
	wasActive := s.state == StateActive

	var errs []error

	// The browser only gets a grace period if it was asked to quit.
	quitSent := false
	if s.conn != nil {
		if wasActive {
			quitCtx, cancel := context.WithTimeout(context.Background(), quitCommandTimeout)
			err := s.conn.Command(quitCtx, marionette.CmdQuit, map[string]any{"flags": []string{"eForceQuit"}}, nil)
			cancel()
			if err != nil {
				s.logger.Debug("marionette quit failed, killing browser", "session_id", s.id, "error", err)
			} else {
				quitSent = true
			}
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("close marionette connection", "error", err)
		}
	}

	if s.cmd != nil {
		if err := s.stopProcess(quitSent); err != nil {
			s.logger.Warn("browser process did not terminate", "pid", s.PID(), "error", err)
			errs = append(errs, err)
		}
	}

	if s.profileDir != "" {
		if err := os.RemoveAll(s.profileDir); err != nil {
			s.logger.Warn("remove browser profile", "profile", s.profileDir, "error", err)
			errs = append(errs, fmt.Errorf("remove profile: %w", err))
		}
	}

	s.state = StateClosed
	if wasActive {
		activeSessions.Dec()
	}
	sessionCleanupDuration.Observe(time.Since(cleanupStart).Seconds())
	s.logger.Debug("browser session closed", "session_id", s.id, "pid", s.PID())

	return errors.Join(errs...)
}

// stopProcess waits briefly for a graceful exit when one was requested, then
// kills the process group and waits for the process to be reaped.
func (s *Session) stopProcess(graceful bool) error {
	if graceful {
		select {
		case <-s.exited:
			return nil
		case <-time.After(s.cfg.ShutdownGrace):
		}
	}

	if err := killProcess(s.cmd.Process); err != nil {
		s.logger.Debug("kill browser", "pid", s.PID(), "error", err)
	}

	select {
	case <-s.exited:
		return nil
	case <-time.After(killWaitTimeout):
		return fmt.Errorf("browser pid %d still running %s after kill", s.PID(), killWaitTimeout)
	}
}
