// Package supervisor owns the lifecycle of the gateway (G) and web-chat
// bridge (W) child processes on behalf of the control plane. It spawns
// both as plain OS processes via os/exec, polls their readiness, tracks
// a small state machine, and tears them down gracefully
// on request or on its own process's SIGINT/SIGTERM. Structured like
// agent/execution/executor.go's sandbox executor (a config struct, a
// logger, a mutex-protected state block, and Start/Execute/Cleanup-shaped
// methods), adapted here from one-shot sandboxed code execution to
// long-lived child-process supervision.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/BaSui01/agentflow/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is one of the supervised set's lifecycle states.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StatePartial  State = "partial"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// gracefulWindow is how long Stop waits for a child to exit after a
// graceful termination signal before force-killing it.
const gracefulWindow = 2 * time.Second

// ChildSpec describes one child process to supervise.
type ChildSpec struct {
	Name         string
	Command      string
	Args         []string
	Env          []string
	Port         int
	ReadinessURL string
}

// Supervisor manages the gateway and web-chat-bridge child processes.
type Supervisor struct {
	mu       sync.Mutex
	gateway  ChildSpec
	webchat  ChildSpec
	children map[string]*child
	state    State
	started  time.Time
	notify   ProviderModelCounter
	logger   *zap.Logger

	readinessPoll     time.Duration
	readinessDeadline time.Duration
	httpClient        *http.Client
}

// ProviderModelCounter supplies the counts embedded in a ProxyStatus
// snapshot, without the supervisor depending on the storage package.
type ProviderModelCounter interface {
	ProvidersSummary(ctx context.Context) (total, enabled int)
	ModelsSummary(ctx context.Context) (total int)
	CredentialsStatus(ctx context.Context) api.CredentialStatus
}

type child struct {
	spec ChildSpec
	cmd  *exec.Cmd
	pid  int
}

// New builds a Supervisor over the given child specs.
func New(gateway, webchat ChildSpec, counter ProviderModelCounter, readinessPoll, readinessDeadline time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if readinessPoll <= 0 {
		readinessPoll = 500 * time.Millisecond
	}
	if readinessDeadline <= 0 {
		readinessDeadline = 15 * time.Second
	}
	return &Supervisor{
		gateway:           gateway,
		webchat:           webchat,
		children:          make(map[string]*child),
		state:             StateStopped,
		notify:            counter,
		logger:            logger,
		readinessPoll:     readinessPoll,
		readinessDeadline: readinessDeadline,
		httpClient:        &http.Client{Timeout: 2 * time.Second},
	}
}

// Start implements the four-step start sequence: free stale
// ports, spawn W, spawn G regardless of W's readiness, then settle into
// running or partial based on liveness probes.
func (s *Supervisor) Start(ctx context.Context) (api.ProxyStatus, error) {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting || s.state == StatePartial {
		status := s.snapshotLocked(ctx)
		s.mu.Unlock()
		return status, nil
	}
	s.state = StateStarting
	s.started = time.Now()
	s.mu.Unlock()

	freePort(s.webchat.Port, s.logger)
	freePort(s.gateway.Port, s.logger)

	// W and G are spawned and brought to readiness concurrently: G starts
	// regardless of W's readiness (spec §4.7), so one's spawn/poll sequence
	// must not block or be cancelled by the other's. A plain errgroup.Group
	// (no derived context) runs both legs to completion and reports the
	// first spawn error, without leaking the other goroutine if one fails.
	var g errgroup.Group
	g.Go(func() error { return s.startChild(ctx, s.webchat) })
	g.Go(func() error { return s.startChild(ctx, s.gateway) })
	startErr := g.Wait()
	if startErr != nil {
		s.logger.Warn("one or more children failed to start cleanly", zap.Error(startErr))
	}

	s.mu.Lock()
	s.settleStateLocked()
	status := s.snapshotLocked(ctx)
	s.mu.Unlock()
	return status, nil
}

// startChild spawns spec and polls its readiness endpoint, registering the
// live child handle under lock as soon as it's known. Runs as one leg of
// Start's errgroup so W's and G's spawn+readiness sequences overlap.
func (s *Supervisor) startChild(ctx context.Context, spec ChildSpec) error {
	c, err := s.spawn(spec)
	if err != nil {
		s.logger.Error("failed to spawn child", zap.String("name", spec.Name), zap.Error(err))
		return err
	}
	if c != nil {
		s.mu.Lock()
		s.children[spec.Name] = c
		s.mu.Unlock()
	}
	s.waitReady(ctx, spec)
	return nil
}

func (s *Supervisor) spawn(spec ChildSpec) (*child, error) {
	if spec.Command == "" {
		return nil, nil
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	s.logger.Info("spawned child process", zap.String("name", spec.Name), zap.Int("pid", cmd.Process.Pid))
	return &child{spec: spec, cmd: cmd, pid: cmd.Process.Pid}, nil
}

// waitReady polls spec.ReadinessURL until it responds 200, the supervisor's
// configured deadline elapses, or ctx is cancelled.
func (s *Supervisor) waitReady(ctx context.Context, spec ChildSpec) bool {
	if spec.ReadinessURL == "" {
		return false
	}
	deadline := time.Now().Add(s.readinessDeadline)
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.ReadinessURL, nil)
		if err == nil {
			if resp, err := s.httpClient.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return true
				}
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.readinessPoll):
		}
	}
	return false
}

// settleStateLocked recomputes state from current liveness, must be
// called with s.mu held.
func (s *Supervisor) settleStateLocked() {
	aliveCount := 0
	total := 0
	for name, spec := range map[string]ChildSpec{s.gateway.Name: s.gateway, s.webchat.Name: s.webchat} {
		if spec.Command == "" {
			continue
		}
		total++
		if c, ok := s.children[name]; ok && isAlive(c.pid) {
			aliveCount++
		} else {
			delete(s.children, name)
		}
	}
	switch {
	case total == 0 || aliveCount == 0:
		s.state = StateStopped
	case aliveCount == total:
		s.state = StateRunning
	default:
		s.state = StatePartial
	}
}

// Stop sends a graceful termination signal to both children, waits
// gracefulWindow, then force-kills any survivor.
func (s *Supervisor) Stop(ctx context.Context) (api.ProxyStatus, error) {
	s.mu.Lock()
	s.state = StateStopping
	children := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	// Each child's signal/wait/force-kill sequence runs in its own errgroup
	// goroutine, so a slow-to-exit W doesn't delay G's teardown (or vice
	// versa). A plain errgroup.Group collects the first failure (a signal
	// or kill syscall error) while still letting every goroutine run to
	// completion rather than abandoning it when another leg errors first.
	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error { return s.stopChild(c) })
	}
	stopErr := g.Wait()
	if stopErr != nil {
		s.logger.Warn("one or more children failed to stop cleanly", zap.Error(stopErr))
	}

	s.mu.Lock()
	s.children = make(map[string]*child)
	s.state = StateStopped
	s.started = time.Time{}
	status := s.snapshotLocked(ctx)
	s.mu.Unlock()
	return status, stopErr
}

// stopChild sends SIGTERM to c, waits up to gracefulWindow for it to exit,
// and force-kills it if it's still alive afterward.
func (s *Supervisor) stopChild(c *child) error {
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("graceful signal failed", zap.String("name", c.spec.Name), zap.Error(err))
		return fmt.Errorf("signal %s: %w", c.spec.Name, err)
	}
	deadline := time.Now().Add(gracefulWindow)
	for time.Now().Before(deadline) && isAlive(c.pid) {
		time.Sleep(50 * time.Millisecond)
	}
	if isAlive(c.pid) {
		if err := c.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("force-kill %s: %w", c.spec.Name, err)
		}
	}
	return nil
}

// Status returns a fresh snapshot, rechecking liveness and pruning dead
// child handles before reporting.
func (s *Supervisor) Status(ctx context.Context) api.ProxyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		s.settleStateLocked()
	}
	return s.snapshotLocked(ctx)
}

func (s *Supervisor) snapshotLocked(ctx context.Context) api.ProxyStatus {
	status := api.ProxyStatus{
		Status:      string(s.state),
		GatewayPort: s.gateway.Port,
		BridgePort:  s.webchat.Port,
		Timestamp:   time.Now().UnixMilli(),
	}
	if !s.started.IsZero() {
		status.UptimeMS = time.Since(s.started).Milliseconds()
	}
	if s.notify != nil {
		total, enabled := s.notify.ProvidersSummary(ctx)
		status.Providers = api.ProvidersSummary{Total: total, Enabled: enabled}
		status.Models = api.ModelsSummary{Total: s.notify.ModelsSummary(ctx)}
		status.Credentials = s.notify.CredentialsStatus(ctx)
	}
	return status
}

// isAlive sends signal 0 to pid: permission-denied counts as alive,
// "no such process" as dead.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == os.ErrPermission
}

// freePort best-effort terminates any process already bound to port by
// attempting a dial; a genuine owner-kill would require platform-specific
// introspection this package deliberately omits, so this instead just
// verifies the port is currently free and logs a warning if not, leaving
// the actual bind failure (if any) to surface from the child's own
// startup logs.
func freePort(port int, logger *zap.Logger) {
	if port <= 0 {
		return
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		logger.Warn("port appears to be in use by a stale process", zap.Int("port", port))
	}
}
