package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/rs/zerolog"
)

// ErrSupervisorShutdown is returned when starting a process after Shutdown.
var ErrSupervisorShutdown = errors.New("supervisor is shut down")

// Process is a long-running child started by a Supervisor.
type Process struct {
	ID      string
	Name    string
	Command Command
	Started time.Time

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the wait error once the process has exited.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// IsRunning reports whether the process has not exited yet.
func (p *Process) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// PID returns the operating-system process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// signal sends sig to the process group of a running child.
func (p *Process) signal(sig os.Signal) error {
	if !p.IsRunning() || p.cmd.Process == nil {
		return nil
	}
	return signalGroup(p.cmd.Process.Pid, sig)
}

// killGroup kills whatever is left of the child's process group, including
// descendants that outlived the child itself.
func (p *Process) killGroup() error {
	if p.cmd.Process == nil {
		return nil
	}
	return signalGroup(p.cmd.Process.Pid, os.Kill)
}

// Supervisor tracks long-running children so they can be stopped together.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	processes map[string]*Process
	closed    atomic.Bool
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		logger:    logger.With().Str("component", "supervisor").Logger(),
		processes: make(map[string]*Process),
	}
}

// Start spawns cmd without waiting for it to exit.
func (s *Supervisor) Start(name string, cmd Command) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	c := exec.Command(cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	setProcessGroup(c)

	if err := c.Start(); err != nil {
		return nil, engine.NewSubprocessError(fmt.Sprintf("failed to start %s", cmd.Name), err).
			WithCode(engine.ErrCodeStartFailed).
			WithUnit(name).
			WithDetail("command", cmd.String())
	}

	proc := &Process{
		ID:      uuid.New().String(),
		Name:    name,
		Command: cmd,
		Started: time.Now(),
		cmd:     c,
		done:    make(chan struct{}),
	}
	s.processes[proc.ID] = proc

	go s.monitor(proc)

	s.logger.Info().
		Str("name", name).
		Str("command", cmd.String()).
		Int("pid", proc.PID()).
		Msg("Process started")

	return proc, nil
}

func (s *Supervisor) monitor(proc *Process) {
	proc.err = proc.cmd.Wait()
	close(proc.done)

	event := s.logger.Debug()
	if proc.err != nil && !s.closed.Load() {
		event = s.logger.Warn().Err(proc.err)
	}
	event.Str("name", proc.Name).Msg("Process exited")

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Count returns the number of running processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Shutdown sends SIGTERM to the process group of every child, waits up to
// timeout for the children to exit, then kills what remains of each group.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	s.mu.RLock()
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.RUnlock()

	if len(procs) == 0 {
		return
	}

	for _, p := range procs {
		_ = p.signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			_ = p.signal(os.Kill)
		}
		<-done
	}

	for _, p := range procs {
		if err := p.killGroup(); err != nil {
			s.logger.Debug().Err(err).Str("name", p.Name).Msg("Failed to kill process group")
		}
	}

	s.logger.Debug().Int("processes", len(procs)).Msg("Supervisor shut down")
}

// NodeSupervisor owns the single shared local execution node of an orchestrator run.
//
// Ensure spawns the node at most once and waits until its port accepts connections.
// Concurrent callers block until the first caller's readiness wait completes.
type NodeSupervisor struct {
	supervisor *Supervisor
	command    Command
	addr       string
	readiness  Readiness
	logger     zerolog.Logger

	mu     sync.Mutex
	proc   *Process
	ready  bool
	spawns int
}

// NewNodeSupervisor creates a node supervisor that starts command and polls addr.
func NewNodeSupervisor(sup *Supervisor, command Command, addr string, readiness Readiness, logger zerolog.Logger) *NodeSupervisor {
	return &NodeSupervisor{
		supervisor: sup,
		command:    command,
		addr:       addr,
		readiness:  readiness,
		logger:     logger.With().Str("component", "node").Logger(),
	}
}

// Ensure starts the node if it has not been started yet and waits for readiness.
func (n *NodeSupervisor) Ensure(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ready {
		return nil
	}

	if n.proc == nil {
		proc, err := n.supervisor.Start("node", n.command)
		if err != nil {
			return err
		}
		n.proc = proc
		n.spawns++
	}

	n.logger.Info().Str("addr", n.addr).Msg("Waiting for local node")
	if err := n.readiness.Wait(ctx, n.addr); err != nil {
		return fmt.Errorf("local node did not become ready: %w", err)
	}

	n.ready = true
	n.logger.Info().Str("addr", n.addr).Msg("Local node ready")
	return nil
}

// Started reports whether the node process has been spawned.
func (n *NodeSupervisor) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.proc != nil
}

// Spawns returns how many times the node process has been spawned.
func (n *NodeSupervisor) Spawns() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.spawns
}

// Addr returns the address polled for readiness.
func (n *NodeSupervisor) Addr() string {
	return n.addr
}
