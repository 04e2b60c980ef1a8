// Package engine owns the script runtime. A Manager keeps at most one
// Context alive on the host loop and rebuilds it wholesale on Reapply.
//
// Every engine call happens on the loop goroutine. Work that finishes
// elsewhere (timers, child processes, network requests) is posted to the
// loop and dispatched into the Context that started it; once that Context
// is gone the work is dropped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/bridge"
	"github.com/GriffinCanCode/scriptbridge/internal/config"
	"github.com/GriffinCanCode/scriptbridge/internal/host"
	"github.com/GriffinCanCode/scriptbridge/internal/loader"
	"github.com/GriffinCanCode/scriptbridge/internal/loop"
	"github.com/GriffinCanCode/scriptbridge/internal/monitoring"
)

var (
	ErrContextUnavailable = errors.New("engine: no context available")
	ErrReapplyInDispatch  = errors.New("engine: reapply called from inside a dispatch")
	ErrEnded              = errors.New("engine: manager has ended")
	ErrNoLoop             = errors.New("engine: loop is required")
)

// Host is the object system scripts drive.
type Host interface {
	bridge.Host
	Roots() map[string]host.Handle
}

// Options configures a Manager.
type Options struct {
	Host    Host
	Loop    *loop.Loop
	Logger  *zap.Logger
	Metrics *monitoring.Metrics

	// Config is called for every new Context. Nil uses config.Load.
	Config func() (*config.Config, error)

	// Stdout and Stderr receive io.print output.
	Stdout io.Writer
	Stderr io.Writer
}

// Manager creates, guards and rebuilds the engine Context.
type Manager struct {
	host       Host
	loop       *loop.Loop
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	loadConfig func() (*config.Config, error)
	loader     *loader.Loader
	stdout     io.Writer
	stderr     io.Writer

	lock    sync.RWMutex
	depth   atomic.Int32
	current *Context
	ended   bool

	// Timer ids are unique across contexts so a stale id never stops a
	// timer of a later context.
	timerSeq atomic.Uint64
}

// New creates a manager. No Context exists until Init.
func New(opts Options) (*Manager, error) {
	if opts.Host == nil {
		return nil, bridge.ErrNoHost
	}
	if opts.Loop == nil {
		return nil, ErrNoLoop
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.Config == nil {
		opts.Config = config.Load
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	logger := opts.Logger.Named("engine")
	return &Manager{
		host:       opts.Host,
		loop:       opts.Loop,
		logger:     logger,
		metrics:    opts.Metrics,
		loadConfig: opts.Config,
		loader:     loader.New(opts.Logger, opts.Metrics),
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
	}, nil
}

// Metrics returns the metrics the manager records into.
func (m *Manager) Metrics() *monitoring.Metrics { return m.metrics }

// Loop returns the host loop the manager runs on.
func (m *Manager) Loop() *loop.Loop { return m.loop }

// Acquire read-locks the current Context. It fails instead of waiting when
// a rebuild is in progress or no Context exists. The returned func releases
// the lock.
func (m *Manager) Acquire() (*Context, func(), error) {
	if !m.lock.TryRLock() {
		return nil, nil, ErrContextUnavailable
	}
	c := m.current
	if c == nil || c.closed {
		m.lock.RUnlock()
		return nil, nil, ErrContextUnavailable
	}
	m.depth.Add(1)
	return c, func() {
		m.depth.Add(-1)
		m.lock.RUnlock()
	}, nil
}

// Dispatch runs fn with the current Context. When none can be acquired the
// call is dropped and Dispatch returns false.
func (m *Manager) Dispatch(fn func(c *Context)) bool {
	c, release, err := m.Acquire()
	if err != nil {
		m.metrics.DispatchDropped.Inc()
		return false
	}
	defer release()
	m.metrics.Dispatches.Inc()
	fn(c)
	return true
}

// dispatchFor runs fn only while c is still the current Context.
func (m *Manager) dispatchFor(c *Context, fn func()) bool {
	cur, release, err := m.Acquire()
	if err != nil {
		m.metrics.DispatchDropped.Inc()
		return false
	}
	defer release()
	if cur != c {
		m.metrics.DispatchDropped.Inc()
		return false
	}
	m.metrics.Dispatches.Inc()
	fn()
	return true
}

// post hands fn to the loop and dispatches it into c there.
func (m *Manager) post(c *Context, fn func()) {
	if !m.loop.Post(func() { m.dispatchFor(c, fn) }) {
		m.metrics.DispatchDropped.Inc()
	}
}

// Init builds the first Context and runs the startup scripts. It must not
// be called from the loop goroutine.
func (m *Manager) Init() error {
	var err error
	if doErr := m.loop.Do(func() { err = m.Reapply() }); doErr != nil {
		return doErr
	}
	return err
}

// Reapply tears the current Context down and builds a new one from freshly
// loaded configuration, then runs the scripts again from source. It runs on
// the loop goroutine and fails when called from inside a dispatch.
func (m *Manager) Reapply() error {
	if m.depth.Load() > 0 {
		return ErrReapplyInDispatch
	}
	cfg, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	m.lock.Lock()
	if m.ended {
		m.lock.Unlock()
		return ErrEnded
	}
	old := m.current
	m.current = nil
	if old != nil {
		old.close()
	}
	c, err := newContext(m, cfg)
	if err != nil {
		m.lock.Unlock()
		m.metrics.ContextsActive.Set(0)
		return fmt.Errorf("failed to create context: %w", err)
	}
	m.current = c
	m.lock.Unlock()

	m.metrics.ContextsActive.Set(1)
	if old != nil {
		m.metrics.Reapplies.Inc()
		m.logger.Info("Context rebuilt", zap.String("old", old.ID.String()), zap.String("context", c.ID.String()))
	} else {
		m.logger.Info("Context created", zap.String("context", c.ID.String()))
	}

	c.start()
	return nil
}

// ScheduleReapply queues a Reapply on the loop. It is safe from any
// goroutine and from inside a dispatch.
func (m *Manager) ScheduleReapply() bool {
	return m.loop.Post(func() {
		if err := m.Reapply(); err != nil {
			m.logger.Error("Reapply failed", zap.Error(err))
		}
	})
}

// End destroys the Context for good. It must not be called from the loop
// goroutine.
func (m *Manager) End() error {
	return m.loop.Do(func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		if m.current != nil {
			m.current.close()
			m.current = nil
		}
		m.ended = true
		m.metrics.ContextsActive.Set(0)
		m.logger.Info("Engine ended")
	})
}

// Result is the outcome of Execute.
type Result struct {
	Value any
	Text  string
}

// Execute evaluates src in the global scope of the current Context. The
// evaluation is interrupted when ctx is done. It must not be called from
// the loop goroutine.
func (m *Manager) Execute(ctx context.Context, src string) (Result, error) {
	var (
		res Result
		err error
	)
	doErr := m.loop.Do(func() {
		c, release, aerr := m.Acquire()
		if aerr != nil {
			err = aerr
			return
		}
		defer release()
		m.metrics.Dispatches.Inc()

		stop := make(chan struct{})
		watched := make(chan struct{})
		go func() {
			defer close(watched)
			select {
			case <-ctx.Done():
				c.vm.Interrupt(ctx.Err())
			case <-stop:
			}
		}()

		var v goja.Value
		v, err = c.vm.RunString(src)
		close(stop)
		<-watched
		c.vm.ClearInterrupt()
		if err != nil {
			return
		}
		res = Result{Value: exported(v), Text: v.String()}
	})
	if doErr != nil {
		return Result{}, doErr
	}
	return res, err
}

// Current returns the id of the live Context, or "" when there is none.
func (m *Manager) Current() string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID.String()
}

func exported(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
