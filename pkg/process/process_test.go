package process

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_CapturesOutput(t *testing.T) {
	r := NewExecRunner(zerolog.Nop())

	var forwarded bytes.Buffer
	res, err := r.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo service; echo warn >&2"},
		Stderr: &forwarded,
	})
	require.NoError(t, err)
	assert.Equal(t, "service\n", string(res.Stdout))
	assert.Equal(t, "warn\n", string(res.Stderr))
	assert.Equal(t, "warn\n", forwarded.String())
}

func TestExecRunner_NonZeroExitIsSubprocessError(t *testing.T) {
	r := NewExecRunner(zerolog.Nop())

	_, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	require.Error(t, err)
	assert.True(t, engine.IsSubprocess(err))
	assert.True(t, errors.Is(err, engine.ErrSubprocessFailed))
	assert.Equal(t, 3, ExitCode(err))

	var e *engine.EngineError
	require.True(t, errors.As(err, &e))
	assert.Equal(t, engine.ErrCodeExitStatus, e.Code)
	assert.Equal(t, "broken", e.Details["stderr"])
}

func TestExecRunner_MissingExecutable(t *testing.T) {
	r := NewExecRunner(zerolog.Nop())

	_, err := r.Run(context.Background(), Command{Name: "mu-definitely-not-installed"})
	require.Error(t, err)
	assert.True(t, engine.IsSubprocess(err))
	assert.Equal(t, -1, ExitCode(err))
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "cargo", Args: []string{"build", "--release"}}
	assert.Equal(t, "cargo build --release", cmd.String())
	assert.Equal(t, "dfx", Command{Name: "dfx"}.String())
}

// reservePort returns a loopback address that nothing listens on yet.
func reservePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestReadiness_SucceedsOncePortOpens(t *testing.T) {
	addr := reservePort(t)

	var attempts int
	r := Readiness{
		Interval:  20 * time.Millisecond,
		OnAttempt: func(int, error) { attempts++ },
	}

	listening := make(chan net.Listener, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			close(listening)
			return
		}
		listening <- l
	}()

	err := r.Wait(context.Background(), addr)
	require.NoError(t, err)
	assert.Greater(t, attempts, 0)

	if l, ok := <-listening; ok {
		_ = l.Close()
	}
}

func TestReadiness_CancelledContext(t *testing.T) {
	addr := reservePort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Readiness{Interval: 10 * time.Millisecond}.Wait(ctx, addr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadiness_OptionalTimeout(t *testing.T) {
	addr := reservePort(t)

	err := Readiness{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}.Wait(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrReadinessTimeout))
}

func TestSupervisor_ShutdownStopsChildren(t *testing.T) {
	sup := NewSupervisor(zerolog.Nop())

	proc, err := sup.Start("sleeper", Command{Name: "sleep", Args: []string{"30"}})
	require.NoError(t, err)
	assert.True(t, proc.IsRunning())
	assert.Greater(t, proc.PID(), 0)

	sup.Shutdown(2 * time.Second)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after shutdown")
	}

	_, err = sup.Start("late", Command{Name: "sleep", Args: []string{"1"}})
	assert.ErrorIs(t, err, ErrSupervisorShutdown)
}

func TestNodeSupervisor_StartsAtMostOnce(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	sup := NewSupervisor(zerolog.Nop())
	defer sup.Shutdown(time.Second)

	node := NewNodeSupervisor(sup,
		Command{Name: "sleep", Args: []string{"30"}},
		l.Addr().String(),
		Readiness{Interval: 10 * time.Millisecond},
		zerolog.Nop(),
	)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, node.Ensure(context.Background()))
		}()
	}
	wg.Wait()

	require.NoError(t, node.Ensure(context.Background()))
	assert.Equal(t, 1, node.Spawns())
	assert.True(t, node.Started())
	assert.Equal(t, 1, sup.Count())
}

func TestNodeSupervisor_RetriesReadinessWithoutRespawn(t *testing.T) {
	addr := reservePort(t)

	sup := NewSupervisor(zerolog.Nop())
	defer sup.Shutdown(time.Second)

	node := NewNodeSupervisor(sup,
		Command{Name: "sleep", Args: []string{"30"}},
		addr,
		Readiness{Interval: 10 * time.Millisecond},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, node.Ensure(ctx))

	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, node.Ensure(context.Background()))
	assert.Equal(t, 1, node.Spawns())
}
