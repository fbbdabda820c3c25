package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/mu-project/mu-cli/pkg/backend"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/telemetry"
	"github.com/mu-project/mu-cli/pkg/watcher"
	"golang.org/x/sync/errgroup"
)

// State is a phase of the dev loop.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateStartingFrontends
	StateArming
	StateWatching
	StateRebuilding
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateStartingFrontends:
		return "starting_frontends"
	case StateArming:
		return "arming"
	case StateWatching:
		return "watching"
	case StateRebuilding:
		return "rebuilding"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State returns the current phase of the dev loop.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State, unit string) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	log := o.log.WithField("state", s.String())
	if unit != "" {
		log = log.WithUnit(unit)
	}
	log.Debug("Dev loop transition")
}

// devUnit is one arena entry: a function, its backend and its change notifier.
type devUnit struct {
	fn       *project.Function
	backend  backend.FunctionBackend
	notifier engine.ChangeNotifier
}

// change is a notification tagged with the arena index of its unit.
type change struct {
	index int
	event watcher.Event
}

// Dev runs the development loop until ctx is cancelled or an operation fails.
//
// Every function is built and deployed in order, frontends are started
// concurrently, and then each change under a function root triggers a
// rebuild and redeploy of that function alone. Only one rebuild runs at a
// time. Cancellation is a clean exit and returns nil.
func (o *Orchestrator) Dev(ctx context.Context) (err error) {
	ctx, span := o.tel.Tracer.StartSessionSpan(ctx, o.sessionID)
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := o.tel.Metrics.Serve(loopCtx); err != nil {
			o.log.WithError(err).Warn("Metrics endpoint stopped")
		}
	}()

	var units []*devUnit
	defer func() {
		for _, u := range units {
			if cerr := u.notifier.Close(); cerr != nil {
				o.log.WithUnit(u.fn.Name()).WithError(cerr).Debug("Failed to close watcher")
			}
		}
		o.Close()
		o.setState(StateStopped, "")
	}()

	o.setState(StateInitializing, "")
	for _, fn := range o.project.Functions {
		b, err := backend.ForFunction(o.project, fn, o.deps)
		if err != nil {
			return err
		}

		var n engine.ChangeNotifier
		if err := o.instrument(loopCtx, fn.Name(), engine.OperationDev, func(ctx context.Context) error {
			var derr error
			n, derr = b.Dev(ctx)
			return derr
		}); err != nil {
			return cancelled(ctx, err)
		}
		units = append(units, &devUnit{fn: fn, backend: b, notifier: n})
	}
	if err := o.project.Save(); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	o.setState(StateStartingFrontends, "")
	if err := o.startFrontends(loopCtx); err != nil {
		return cancelled(ctx, err)
	}
	o.tel.Metrics.SetSupervisedProcesses(o.supervisor.Count())

	o.setState(StateArming, "")
	changes := make(chan change)
	for i, u := range units {
		u.notifier.Enable()
		go forward(loopCtx, i, u.notifier, changes)
	}

	for {
		o.setState(StateWatching, "")
		var c change
		select {
		case <-loopCtx.Done():
			return nil
		case c = <-changes:
		}

		u := units[c.index]
		o.setState(StateRebuilding, u.fn.Name())
		o.log.WithUnit(u.fn.Name()).
			WithField("path", c.event.Path).
			Infof("Change detected (%s), rebuilding", c.event.Op)

		if err := o.rebuild(loopCtx, u); err != nil {
			if err := cancelled(ctx, err); err != nil {
				o.log.WithUnit(u.fn.Name()).WithError(err).Error("Rebuild failed, stopping dev loop")
				return err
			}
			return nil
		}
		u.notifier.Enable()
	}
}

// rebuild builds, deploys and persists one unit.
func (o *Orchestrator) rebuild(ctx context.Context, u *devUnit) error {
	o.tel.Metrics.RecordRebuild(u.fn.Name())
	err := o.instrument(ctx, u.fn.Name(), engine.OperationRebuild, func(ctx context.Context) error {
		if err := u.backend.Build(ctx); err != nil {
			return err
		}
		return u.backend.Deploy(ctx)
	})
	if err != nil {
		return err
	}
	if err := o.project.Save(); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// startFrontends starts every frontend dev server and waits for all of them.
// The i-th frontend listens on frontend.base_port + i.
func (o *Orchestrator) startFrontends(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, fe := range o.project.Frontends {
		port := o.settings.Frontend.BasePort + i
		b := backend.ForFrontend(o.project, fe, o.deps)
		g.Go(func() error {
			start := time.Now()
			err := b.Dev(gctx, port)
			status := "ready"
			if err != nil {
				status = "failed"
			}
			o.tel.Metrics.RecordReadinessWait("frontend", status, time.Since(start))
			return err
		})
	}
	return g.Wait()
}

// forward relays notifications of one unit onto the shared channel.
func forward(ctx context.Context, index int, n engine.ChangeNotifier, out chan<- change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.C():
			select {
			case out <- change{index: index, event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// cancelled maps any failure that happened after ctx was cancelled to a
// clean exit; children killed by the interrupt fail in tool-specific ways.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
