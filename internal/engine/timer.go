package engine

import (
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// timer is a repeating script timer. It re-arms only after its callback
// returned a truthy value.
type timer struct {
	id       uint64
	interval time.Duration
	fn       goja.Callable
	t        *time.Timer
}

// startTimer arms fn to run every interval on the loop. It returns the
// timer id.
func (c *Context) startTimer(interval time.Duration, fn goja.Callable) uint64 {
	if floor := time.Duration(c.cfg.Engine.TimerFloorMS) * time.Millisecond; interval < floor {
		interval = floor
	}
	t := &timer{
		id:       c.m.timerSeq.Add(1),
		interval: interval,
		fn:       fn,
	}
	t.t = time.AfterFunc(interval, func() {
		c.m.post(c, func() { c.fireTimer(t.id) })
	})
	c.timers[t.id] = t
	c.m.metrics.TimersActive.Inc()
	return t.id
}

func (c *Context) fireTimer(id uint64) {
	t, ok := c.timers[id]
	if !ok {
		return
	}
	ret, ok := c.call("timer", t.fn, goja.Undefined())
	if _, live := c.timers[id]; !live {
		// The callback stopped its own timer.
		return
	}
	if !ok || !ret.ToBoolean() {
		c.stopTimer(id)
		return
	}
	t.t.Reset(t.interval)
}

// stopTimer cancels a timer of this Context.
func (c *Context) stopTimer(id uint64) bool {
	t, ok := c.timers[id]
	if !ok {
		return false
	}
	t.t.Stop()
	delete(c.timers, id)
	c.m.metrics.TimersActive.Dec()
	return true
}

func (c *Context) stopTimers() {
	n := len(c.timers)
	for id := range c.timers {
		c.stopTimer(id)
	}
	if n > 0 {
		c.logger.Debug("Timers cancelled", zap.Int("count", n))
	}
}

func (c *Context) timerNamespace() *goja.Object {
	return c.newObject(map[string]any{
		"start": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(1))
			if !ok {
				return c.vm.ToValue(0)
			}
			interval := time.Duration(call.Argument(0).ToInteger()) * time.Millisecond
			return c.vm.ToValue(c.startTimer(interval, fn))
		},
		"stop": func(call goja.FunctionCall) goja.Value {
			id := call.Argument(0).ToInteger()
			return c.vm.ToValue(id > 0 && c.stopTimer(uint64(id)))
		},
	})
}
