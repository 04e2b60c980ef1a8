package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/scriptbridge/internal/config"
	"github.com/GriffinCanCode/scriptbridge/internal/host"
	"github.com/GriffinCanCode/scriptbridge/internal/loop"
	"github.com/GriffinCanCode/scriptbridge/internal/monitoring"
)

type fixture struct {
	t       *testing.T
	dir     string
	cfg     *config.Config
	reg     *host.Registry
	view    *host.Object
	loop    *loop.Loop
	m       *Manager
	metrics *monitoring.Metrics
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

// newFixture writes scripts into a fresh directory and starts a manager
// that loads them.
func newFixture(t *testing.T, scripts map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		dir:     t.TempDir(),
		reg:     host.NewRegistry(),
		metrics: monitoring.NewMetrics(),
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
	}
	for name, src := range scripts {
		f.write(name, []byte(src))
	}

	f.cfg = config.Default()
	f.cfg.Scripts.Dir = f.dir
	f.cfg.Scripts.Patterns = []string{"*.js", "*.tar"}
	f.cfg.Net.Retries = 0

	view, err := host.NewPageView(f.reg)
	require.NoError(t, err)
	f.view = view
	f.reg.SetRoot("view", view)

	logger := zaptest.NewLogger(t)
	f.loop = loop.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	f.loop.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.loop.Stop()
	})

	f.m, err = New(Options{
		Host:    f.reg,
		Loop:    f.loop,
		Logger:  logger,
		Metrics: f.metrics,
		Config:  func() (*config.Config, error) { return f.cfg, nil },
		Stdout:  f.stdout,
		Stderr:  f.stderr,
	})
	require.NoError(t, err)
	require.NoError(t, f.m.Init())
	return f
}

func (f *fixture) write(name string, data []byte) string {
	f.t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, data, 0o644))
	return p
}

func (f *fixture) eval(src string) any {
	f.t.Helper()
	res, err := f.m.Execute(context.Background(), src)
	require.NoError(f.t, err)
	return res.Value
}

func (f *fixture) reapply() {
	f.t.Helper()
	var err error
	require.NoError(f.t, f.loop.Do(func() { err = f.m.Reapply() }))
	require.NoError(f.t, err)
}

// eventually waits until src evaluates to true.
func (f *fixture) eventually(src string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		res, err := f.m.Execute(context.Background(), src)
		return err == nil && res.Value == true
	}, 5*time.Second, 10*time.Millisecond, src)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Loop: loop.New(nil)})
	assert.Error(t, err)
	_, err = New(Options{Host: host.NewRegistry()})
	assert.ErrorIs(t, err, ErrNoLoop)
}

func TestInitRunsScripts(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.js": `globalThis.first = script.path; globalThis.same = this === script;`,
		"b.js": `globalThis.order = (globalThis.first ? "a" : "") + "b";`,
	})

	assert.Equal(t, filepath.Join(f.dir, "a.js"), f.eval("first"))
	assert.Equal(t, true, f.eval("same"))
	assert.Equal(t, "ab", f.eval("order"))
	assert.NotEmpty(t, f.m.Current())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ContextsActive))
}

func TestLibraryScriptsRunFirst(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.js":           `globalThis.order = (globalThis.order || "") + "a";`,
		"lib/helpers.js": `globalThis.order = (globalThis.order || "") + "lib"; globalThis.libRuns = (globalThis.libRuns || 0) + 1;`,
	})
	assert.Equal(t, "liba", f.eval("order"))

	// Scripts under the library directory are not loaded twice when the
	// patterns reach into it.
	f.cfg.Scripts.Patterns = []string{"**/*.js"}
	f.reapply()
	assert.Equal(t, "liba", f.eval("order"))
	assert.Equal(t, int64(1), f.eval("libRuns"))
}

func TestLibraryDirectory(t *testing.T) {
	assert.Equal(t, filepath.Join("/scripts", "lib"), libDir("/scripts", "lib"))
	assert.Equal(t, "/opt/lib", libDir("/scripts", "/opt/lib"))
	assert.Equal(t, "", libDir("/scripts", ""))

	assert.True(t, within("/scripts/lib", "/scripts/lib/a.js"))
	assert.True(t, within("/scripts/lib", "/scripts/lib/deep/b.js"))
	assert.False(t, within("/scripts/lib", "/scripts/a.js"))
	assert.False(t, within("/scripts/lib", "/scripts/library.js"))
}

func TestScriptErrorsAreContained(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.js": `throw new Error("broken");`,
		"b.js": `globalThis.ran = true;`,
	})

	assert.Equal(t, true, f.eval("ran"))
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.ScriptErrors), 1.0)
}

func TestExecute(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.m.Execute(context.Background(), "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Value)
	assert.Equal(t, "2", res.Text)

	_, err = f.m.Execute(context.Background(), "throw new Error('nope')")
	assert.Error(t, err)

	res, err = f.m.Execute(context.Background(), "undefined")
	require.NoError(t, err)
	assert.Nil(t, res.Value)
}

func TestExecuteInterrupted(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.m.Execute(ctx, "for (;;) {}")
	require.Error(t, err)

	assert.Equal(t, int64(3), f.eval("1 + 2"))
}

func TestReapplyRebuildsContext(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.js": `globalThis.runs = (globalThis.runs || 0) + 1;`,
	})
	globals := `Object.getOwnPropertyNames(globalThis).sort().join(",")`
	before := f.eval(globals)
	id := f.m.Current()

	f.eval(`globalThis.leftover = 1;`)
	f.reapply()

	assert.NotEqual(t, id, f.m.Current())
	assert.Equal(t, before, f.eval(globals))
	assert.Equal(t, int64(1), f.eval("runs"))
	assert.Equal(t, "undefined", f.eval("typeof leftover"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reapplies))
}

func TestReapplyDropsStaleWork(t *testing.T) {
	f := newFixture(t, nil)

	f.eval(`
		globalThis.fired = false;
		namespace("timer").start(30, function() { fired = true; return true; });
		namespace("system").spawn("sleep 0.1").then(function() { fired = true; });
	`)
	f.reapply()
	f.eval(`globalThis.fired = false;`)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, false, f.eval("fired"))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.TimersActive))
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.DispatchDropped), 1.0)
}

func TestReapplyInsideDispatch(t *testing.T) {
	f := newFixture(t, nil)

	var err error
	require.NoError(t, f.loop.Do(func() {
		f.m.Dispatch(func(*Context) { err = f.m.Reapply() })
	}))
	assert.ErrorIs(t, err, ErrReapplyInDispatch)

	assert.True(t, f.m.ScheduleReapply())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.Reapplies) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAcquireDuringRebuild(t *testing.T) {
	f := newFixture(t, nil)

	f.m.lock.Lock()
	_, _, err := f.m.Acquire()
	f.m.lock.Unlock()
	assert.ErrorIs(t, err, ErrContextUnavailable)

	c, release, err := f.m.Acquire()
	require.NoError(t, err)
	assert.NotNil(t, c.Runtime())
	assert.NotNil(t, c.Bridge())
	release()
}

func TestEnd(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.m.End())
	assert.Empty(t, f.m.Current())

	_, err := f.m.Execute(context.Background(), "1")
	assert.ErrorIs(t, err, ErrContextUnavailable)

	var dispatched bool
	require.NoError(t, f.loop.Do(func() {
		dispatched = f.m.Dispatch(func(*Context) {})
		err = f.m.Reapply()
	}))
	assert.False(t, dispatched)
	assert.ErrorIs(t, err, ErrEnded)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ContextsActive))
}

func TestHostSignalsDieWithContext(t *testing.T) {
	f := newFixture(t, map[string]string{
		"view.js": `
			globalThis.loads = [];
			namespace("host").view.connect("load-finished", function() {
				loads.push(this.uri);
			});
		`,
	})

	f.eval(`namespace("host").view.loadUri("http://example.com/")`)
	assert.Equal(t, "http://example.com/", f.eval("loads.join(',')"))

	f.reapply()
	f.eval(`globalThis.loads = [];`)
	require.NoError(t, f.loop.Do(func() { f.view.Emit("load-uri", host.String("http://example.org/")) }))
	// The new context's own handler saw the load, the old one is gone.
	assert.Equal(t, "http://example.org/", f.eval("loads.join(',')"))
	assert.True(t, f.view.Alive())
}

func TestHostRoots(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, "view", f.eval(`namespace("host").roots().join(",")`))
	assert.Equal(t, true, f.eval(`namespace("host").root("view") === namespace("host").view`))
	assert.Nil(t, f.eval(`namespace("host").root("missing")`))
	assert.Equal(t, true, f.eval(`namespace("host").view instanceof WebKitWebView`))
}
