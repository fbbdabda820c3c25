package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mu-project/mu-cli/pkg/backend"
	"github.com/mu-project/mu-cli/pkg/config"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/process"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/stores"
	"github.com/mu-project/mu-cli/pkg/telemetry"
	"github.com/mu-project/mu-cli/pkg/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterDID = "service : { count : () -> (int32) }\n"

// fakeNotifier has the edge-trigger semantics of watcher.Watcher without a filesystem.
type fakeNotifier struct {
	unit string
	ch   chan watcher.Event

	mu      sync.Mutex
	armed   bool
	enables int
	closed  bool
}

func newFakeNotifier(unit string) *fakeNotifier {
	return &fakeNotifier{unit: unit, ch: make(chan watcher.Event, 1)}
}

func (n *fakeNotifier) Unit() string { return n.unit }

func (n *fakeNotifier) C() <-chan watcher.Event { return n.ch }

func (n *fakeNotifier) Enable() {
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.ch:
	default:
	}
	n.armed = true
	n.enables++
}

func (n *fakeNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// fire delivers a change if the notifier is armed and reports whether it did.
func (n *fakeNotifier) fire(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.armed {
		return false
	}
	n.armed = false
	n.ch <- watcher.Event{Unit: n.unit, Path: path, Op: watcher.OpWrite, Time: time.Now()}
	return true
}

func (n *fakeNotifier) isArmed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.armed
}

func (n *fakeNotifier) enableCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enables
}

func (n *fakeNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

type call struct {
	name string
	unit string
}

// toolchain fakes cargo, candid-extractor and dfx per unit directory.
type toolchain struct {
	mu     sync.Mutex
	calls  []call
	builds map[string]int
	fail   map[string]bool

	// gates block the n-th build of a unit until closed.
	gates   map[string]chan struct{}
	gateAt  map[string]int
	started chan string
}

func newToolchain() *toolchain {
	return &toolchain{
		builds:  make(map[string]int),
		fail:    make(map[string]bool),
		gates:   make(map[string]chan struct{}),
		gateAt:  make(map[string]int),
		started: make(chan string, 8),
	}
}

func (tc *toolchain) gate(unit string, build int) chan struct{} {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	ch := make(chan struct{})
	tc.gates[unit] = ch
	tc.gateAt[unit] = build
	return ch
}

func (tc *toolchain) Run(_ context.Context, cmd process.Command) (*process.Result, error) {
	unit := filepath.Base(cmd.Dir)

	tc.mu.Lock()
	tc.calls = append(tc.calls, call{name: cmd.Name, unit: unit})
	var gate chan struct{}
	if cmd.Name == "cargo" {
		tc.builds[unit]++
		if tc.gateAt[unit] == tc.builds[unit] {
			gate = tc.gates[unit]
		}
	}
	fail := tc.fail[unit]
	tc.mu.Unlock()

	switch cmd.Name {
	case "cargo":
		if gate != nil {
			tc.started <- unit
			<-gate
		}
		if fail {
			return nil, engine.NewSubprocessError("cargo failed", fmt.Errorf("exit status 101")).
				WithCode(engine.ErrCodeExitStatus)
		}
		return &process.Result{}, nil
	case "candid-extractor":
		return &process.Result{Stdout: []byte(counterDID)}, nil
	case "dfx":
		ids := map[string]map[string]string{unit: {"local": "id-" + unit}}
		data, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(cmd.Dir, backend.CanisterIDsFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return &process.Result{}, os.WriteFile(path, data, 0o644)
	}
	return &process.Result{}, nil
}

func (tc *toolchain) buildCount(unit string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.builds[unit]
}

// index returns the position of the n-th (1-based) call of name for unit.
func (tc *toolchain) index(name, unit string, n int) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	seen := 0
	for i, c := range tc.calls {
		if c.name == name && c.unit == unit {
			seen++
			if seen == n {
				return i
			}
		}
	}
	return -1
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(context.Context, string) (string, error) {
	return "export const idlFactory = ({ IDL }) => {};", nil
}

type fakeInspector struct{}

func (fakeInspector) Inspect(_ context.Context, path string) (*backend.Artifact, error) {
	return &backend.Artifact{Path: path}, nil
}

type fakeNode struct {
	mu    sync.Mutex
	calls int
}

func (n *fakeNode) Ensure(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

// logBuffer collects JSON log lines written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries returns every decoded line whose message is msg.
func (b *logBuffer) entries(t *testing.T, msg string) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

type harness struct {
	project   *project.Project
	logs      *logBuffer
	orch      *Orchestrator
	toolchain *toolchain
	history   *stores.HistoryStore
	node      *fakeNode

	mu        sync.Mutex
	notifiers map[string]*fakeNotifier
}

func newHarness(t *testing.T, settings *config.Settings) *harness {
	t.Helper()

	p, err := project.Init(t.TempDir(), "demo")
	require.NoError(t, err)

	history, err := stores.Open(context.Background(), stores.Config{Path: stores.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	if settings == nil {
		settings = config.Default()
	}
	settings.Readiness.Interval = 10 * time.Millisecond

	h := &harness{
		project:   p,
		toolchain: newToolchain(),
		history:   history,
		node:      &fakeNode{},
		logs:      &logBuffer{},
		notifiers: make(map[string]*fakeNotifier),
	}
	h.orch = New(p, Options{
		Settings:  settings,
		History:   history,
		Runner:    h.toolchain,
		Bindings:  fakeGenerator{},
		Inspector: fakeInspector{},
		Node:      h.node,
		Watch: func(unit, _ string) (engine.ChangeNotifier, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			n := newFakeNotifier(unit)
			h.notifiers[unit] = n
			return n, nil
		},
		Logger: telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "debug", Format: "json"}, h.logs),
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) notifier(unit string) *fakeNotifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notifiers[unit]
}

func (h *harness) armed(units ...string) bool {
	for _, u := range units {
		n := h.notifier(u)
		if n == nil || !n.isArmed() {
			return false
		}
	}
	return true
}

func (h *harness) reload(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.Load(h.project.Dir)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestAddFunction_RegistersAndScaffolds(t *testing.T) {
	h := newHarness(t, nil)

	fn, err := h.orch.AddFunction(context.Background(), "svc", project.FunctionTypeICP)
	require.NoError(t, err)

	root := h.project.FunctionRoot(fn)
	assert.DirExists(t, root)
	assert.FileExists(t, filepath.Join(root, "Cargo.toml"))
	assert.FileExists(t, filepath.Join(root, backend.ManifestFile))

	p := h.reload(t)
	require.Len(t, p.Config().Functions, 1)
	require.Len(t, p.State().Functions, 1)
	state := p.Functions[0].State.Backend
	assert.Equal(t, project.FunctionTypeICP, state.Type)
	require.NotNil(t, state.ICP)
	assert.Nil(t, state.ICP.DID)
	assert.Nil(t, state.ICP.CanisterID)
	assert.Nil(t, state.ICP.JSBindings)

	records, err := h.history.ListOperations(context.Background(), "svc", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.OperationInit, records[0].Kind)
	assert.Equal(t, h.orch.SessionID(), records[0].SessionID)
}

func TestAddFunction_LogsUnitAndSession(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.AddFunction(context.Background(), "svc", project.FunctionTypeICP)
	require.NoError(t, err)

	entries := h.logs.entries(t, "Unit added")
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "orchestrator", entries[0]["component"])
	assert.Equal(t, "svc", entries[0]["unit"])
	assert.Equal(t, h.orch.SessionID(), entries[0]["session_id"])
	assert.NotEmpty(t, entries[0]["root"])
}

func TestAddFunction_HistoryFailureIsLoggedWithUnit(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.history.Close())

	_, err := h.orch.AddFunction(context.Background(), "svc", project.FunctionTypeICP)
	require.NoError(t, err)

	entries := h.logs.entries(t, "Failed to record operation")
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "svc", entries[0]["unit"])
	assert.Equal(t, h.orch.SessionID(), entries[0]["session_id"])
	assert.NotEmpty(t, entries[0]["error"])
}

func TestAddFunction_UnsupportedKindIsNotRegistered(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.AddFunction(context.Background(), "prog", project.FunctionTypeSolana)
	require.Error(t, err)
	assert.True(t, engine.IsUnsupported(err))

	assert.Empty(t, h.project.Functions)
	assert.Empty(t, h.reload(t).Functions)
}

func TestAddFunction_Duplicate(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.AddFunction(context.Background(), "svc", project.FunctionTypeICP)
	require.NoError(t, err)
	_, err = h.orch.AddFunction(context.Background(), "svc", project.FunctionTypeICP)
	require.Error(t, err)
	assert.True(t, engine.IsInvalid(err))
	assert.Len(t, h.project.Functions, 1)
}

func TestAddFrontend(t *testing.T) {
	h := newHarness(t, nil)

	fe, err := h.orch.AddFrontend(context.Background(), "web", project.FrontendTemplateVanilla)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(h.project.FrontendRoot(fe), "package.json"))
	require.Len(t, h.reload(t).Frontends, 1)

	_, err = h.orch.AddFrontend(context.Background(), "app", project.FrontendTemplateReact)
	require.Error(t, err)
	assert.True(t, engine.IsUnsupported(err))
	assert.Len(t, h.reload(t).Frontends, 1)
}

func TestBuild_PersistsDerivedState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta"} {
		_, err := h.orch.AddFunction(ctx, name, project.FunctionTypeICP)
		require.NoError(t, err)
	}

	require.NoError(t, h.orch.Build(ctx))

	for _, fn := range h.reload(t).Functions {
		require.NotNil(t, fn.State.Backend.ICP.DID, fn.Name())
		assert.Equal(t, counterDID, *fn.State.Backend.ICP.DID)
		assert.NotNil(t, fn.State.Backend.ICP.JSBindings)
		assert.Nil(t, fn.State.Backend.ICP.CanisterID)
	}
	assert.Zero(t, h.node.calls, "build never needs the node")
}

func TestBuild_FailurePersistsNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta"} {
		_, err := h.orch.AddFunction(ctx, name, project.FunctionTypeICP)
		require.NoError(t, err)
	}
	h.toolchain.fail["beta"] = true

	err := h.orch.Build(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsSubprocess(err))

	for _, fn := range h.reload(t).Functions {
		assert.Nil(t, fn.State.Backend.ICP.DID, fn.Name())
	}

	records, err := h.history.ListOperations(ctx, "beta", 0)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, engine.OperationBuild, records[0].Kind)
	assert.Equal(t, engine.OperationFailed, records[0].Status)
	require.NotNil(t, records[0].Error)
	assert.Contains(t, *records[0].Error, "cargo failed")
}

func TestDeploy_RecordsCanisterIDs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.orch.AddFunction(ctx, "svc", project.FunctionTypeICP)
	require.NoError(t, err)

	require.NoError(t, h.orch.Deploy(ctx))

	fn := h.reload(t).Functions[0]
	require.NotNil(t, fn.State.Backend.ICP.CanisterID)
	assert.Equal(t, "id-svc", *fn.State.Backend.ICP.CanisterID)
	assert.Equal(t, 1, h.node.calls)
}

// runDev starts the dev loop and returns a function that stops it and
// returns its result.
func runDev(t *testing.T, h *harness) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Dev(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("dev loop did not stop")
			return nil
		}
	}
}

func TestDev_InitialBuildDeployAndArm(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta"} {
		_, err := h.orch.AddFunction(ctx, name, project.FunctionTypeICP)
		require.NoError(t, err)
	}

	stop := runDev(t, h)
	require.Eventually(t, func() bool {
		return h.orch.State() == StateWatching && h.armed("alpha", "beta")
	}, 5*time.Second, 10*time.Millisecond)

	// Functions are initialized in declaration order.
	assert.Less(t, h.toolchain.index("dfx", "alpha", 1), h.toolchain.index("cargo", "beta", 1))

	for _, fn := range h.reload(t).Functions {
		require.NotNil(t, fn.State.Backend.ICP.CanisterID)
		assert.Equal(t, "id-"+fn.Name(), *fn.State.Backend.ICP.CanisterID)
	}

	require.NoError(t, stop())
	assert.Equal(t, StateStopped, h.orch.State())
	assert.True(t, h.notifier("alpha").isClosed())
	assert.True(t, h.notifier("beta").isClosed())
}

func TestDev_RebuildsOnlyTheChangedUnit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta"} {
		_, err := h.orch.AddFunction(ctx, name, project.FunctionTypeICP)
		require.NoError(t, err)
	}

	stop := runDev(t, h)
	require.Eventually(t, func() bool {
		return h.orch.State() == StateWatching && h.armed("alpha", "beta")
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, h.notifier("alpha").fire("src/lib.rs"))
	require.Eventually(t, func() bool {
		return h.toolchain.buildCount("alpha") == 2 && h.armed("alpha")
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.toolchain.buildCount("beta"))
	assert.Equal(t, 2, h.notifier("alpha").enableCount())
	assert.Equal(t, 1, h.notifier("beta").enableCount())

	require.NoError(t, stop())

	records, err := h.history.ListOperations(ctx, "alpha", 0)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, engine.OperationRebuild, records[0].Kind)
	assert.Equal(t, engine.OperationSucceeded, records[0].Status)
}

func TestDev_ChangeDuringRebuildIsServedAfterwards(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta"} {
		_, err := h.orch.AddFunction(ctx, name, project.FunctionTypeICP)
		require.NoError(t, err)
	}
	release := h.toolchain.gate("beta", 2)

	stop := runDev(t, h)
	require.Eventually(t, func() bool {
		return h.orch.State() == StateWatching && h.armed("alpha", "beta")
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, h.notifier("beta").fire("src/lib.rs"))
	select {
	case unit := <-h.toolchain.started:
		require.Equal(t, "beta", unit)
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild of beta did not start")
	}

	// alpha stays armed while beta rebuilds, so its change is latched.
	require.True(t, h.notifier("alpha").fire("src/lib.rs"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateRebuilding, h.orch.State())
	assert.Equal(t, 1, h.toolchain.buildCount("alpha"), "alpha must wait for beta's rebuild")

	close(release)
	require.Eventually(t, func() bool {
		return h.toolchain.buildCount("alpha") == 2 && h.orch.State() == StateWatching && h.armed("alpha", "beta")
	}, 5*time.Second, 10*time.Millisecond)

	betaDeploy := h.toolchain.index("dfx", "beta", 2)
	alphaBuild := h.toolchain.index("cargo", "alpha", 2)
	require.NotEqual(t, -1, betaDeploy)
	require.NotEqual(t, -1, alphaBuild)
	assert.Less(t, betaDeploy, alphaBuild, "alpha's rebuild starts only after beta's deploy")

	require.NoError(t, stop())
}

func TestDev_RebuildFailureEndsTheSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.orch.AddFunction(ctx, "svc", project.FunctionTypeICP)
	require.NoError(t, err)

	stop := runDev(t, h)
	require.Eventually(t, func() bool {
		return h.orch.State() == StateWatching && h.armed("svc")
	}, 5*time.Second, 10*time.Millisecond)

	h.toolchain.mu.Lock()
	h.toolchain.fail["svc"] = true
	h.toolchain.mu.Unlock()
	require.True(t, h.notifier("svc").fire("src/lib.rs"))

	require.Eventually(t, func() bool {
		return h.orch.State() == StateStopped
	}, 5*time.Second, 10*time.Millisecond)

	err = stop()
	require.Error(t, err)
	assert.True(t, engine.IsSubprocess(err))
	assert.True(t, h.notifier("svc").isClosed())
}

func TestDev_InitialFailureStops(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.orch.AddFunction(ctx, "svc", project.FunctionTypeICP)
	require.NoError(t, err)
	h.toolchain.fail["svc"] = true

	err = h.orch.Dev(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsSubprocess(err))
	assert.Equal(t, StateStopped, h.orch.State())
	assert.Nil(t, h.notifier("svc"), "no watcher is created for a unit that failed to build")
}

// listenPair opens listeners on two consecutive free ports.
func listenPair(t *testing.T) (int, func()) {
	t.Helper()
	for attempt := 0; attempt < 50; attempt++ {
		first, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := first.Addr().(*net.TCPAddr).Port
		second, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port+1))
		if err != nil {
			first.Close()
			continue
		}
		return port, func() {
			first.Close()
			second.Close()
		}
	}
	t.Fatal("no consecutive free ports")
	return 0, nil
}

func TestDev_StartsFrontendsOnConsecutivePorts(t *testing.T) {
	base, closeListeners := listenPair(t)
	defer closeListeners()

	// A stand-in for npm that records its arguments in the frontend root.
	script := filepath.Join(t.TempDir(), "npm")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\" > args\nexec sleep 30\n"), 0o755))

	settings := config.Default()
	settings.Frontend.BasePort = base
	settings.Toolchain.NPM = script
	h := newHarness(t, settings)

	ctx := context.Background()
	for _, name := range []string{"web", "admin"} {
		fe, err := h.orch.AddFrontend(ctx, name, project.FrontendTemplateVanilla)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(h.project.FrontendRoot(fe), "node_modules"), 0o755))
	}

	stop := runDev(t, h)
	require.Eventually(t, func() bool {
		return h.orch.State() == StateWatching
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, h.orch.supervisor.Count())

	for i, fe := range h.project.Frontends {
		argsFile := filepath.Join(h.project.FrontendRoot(fe), "args")
		require.Eventually(t, func() bool {
			data, err := os.ReadFile(argsFile)
			return err == nil && len(data) > 0
		}, 2*time.Second, 10*time.Millisecond)

		data, err := os.ReadFile(argsFile)
		require.NoError(t, err)
		assert.Contains(t, strings.TrimSpace(string(data)), fmt.Sprintf("--port %d", base+i))
	}

	require.NoError(t, stop())
	assert.Eventually(t, func() bool {
		return h.orch.supervisor.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
