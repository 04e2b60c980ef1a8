// Package deferred implements a single-resolution container with chained
// continuations.
//
// A Deferred is pending until Resolve or Reject settles it. Each Then call
// registers a continuation and returns a fresh successor. Settling runs the
// matching callback of every continuation and then settles each successor:
//
//   - a callback returning a *Deferred makes the successor follow that
//     Deferred's outcome;
//   - any other non-nil result settles the successor with that single value;
//   - a nil result (or no callback) passes the original arguments through.
//
// Once a callback has run, the successor is fulfilled even if the Deferred
// was rejected: a rejection callback handles the error. A rejection with no
// callback to take it travels down the chain unchanged.
//
// A Deferred is not safe for concurrent use. The engine only touches it from
// the host loop.
package deferred

// State is the settlement state of a Deferred.
type State int

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	}
	return "pending"
}

// Callback receives the settlement arguments. See the package documentation
// for how its result is interpreted.
type Callback func(args []any) any

type link struct {
	onFulfilled Callback
	onRejected  Callback
	next        *Deferred
	// observe links belong to a follower and ignore discard.
	observe bool
}

// Deferred is a single-resolution value with continuations.
type Deferred struct {
	state State
	args  []any
	links []*link
	// discard is the outcome whose callbacks this Deferred skips. It is set
	// when the Deferred follows another one (see adopt).
	discard State
}

// New returns a pending Deferred.
func New() *Deferred {
	return &Deferred{}
}

// Resolved returns a Deferred already fulfilled with args.
func Resolved(args ...any) *Deferred {
	d := New()
	d.Resolve(args...)
	return d
}

// RejectedWith returns a Deferred already rejected with args.
func RejectedWith(args ...any) *Deferred {
	d := New()
	d.Reject(args...)
	return d
}

func (d *Deferred) State() State { return d.state }

// IsFulfilled reports whether the Deferred has settled either way.
func (d *Deferred) IsFulfilled() bool { return d.state != Pending }

// Args returns the settlement arguments, nil while pending.
func (d *Deferred) Args() []any { return d.args }

// Then registers a continuation and returns its successor. On a settled
// Deferred the matching callback runs immediately.
func (d *Deferred) Then(onFulfilled, onRejected Callback) *Deferred {
	l := &link{onFulfilled: onFulfilled, onRejected: onRejected, next: New()}
	if d.state == Pending {
		d.links = append(d.links, l)
	} else {
		d.fire(l)
	}
	return l.next
}

// Done is Then with only a fulfillment callback.
func (d *Deferred) Done(fn Callback) *Deferred {
	return d.Then(fn, nil)
}

// Fail is Then with only a rejection callback.
func (d *Deferred) Fail(fn Callback) *Deferred {
	return d.Then(nil, fn)
}

// Always runs fn on either outcome.
func (d *Deferred) Always(fn Callback) *Deferred {
	return d.Then(fn, fn)
}

// Resolve fulfills a pending Deferred. It reports whether this call settled it.
func (d *Deferred) Resolve(args ...any) bool {
	return d.settle(Fulfilled, args)
}

// Reject rejects a pending Deferred. It reports whether this call settled it.
func (d *Deferred) Reject(args ...any) bool {
	return d.settle(Rejected, args)
}

func (d *Deferred) settle(state State, args []any) bool {
	if d.state != Pending {
		return false
	}
	d.state = state
	d.args = args
	links := d.links
	d.links = nil
	for _, l := range links {
		d.fire(l)
	}
	return true
}

func (d *Deferred) fire(l *link) {
	cb := l.onFulfilled
	if d.state == Rejected {
		cb = l.onRejected
	}
	if d.state == d.discard && !l.observe {
		cb = nil
	}
	// Drop the callbacks before running them so nothing keeps them alive.
	l.onFulfilled, l.onRejected = nil, nil

	var ret any
	if cb != nil {
		ret = cb(d.args)
	}
	if l.next == nil {
		return
	}
	// A rejection handled by a callback recovers the chain.
	state := d.state
	if cb != nil {
		state = Fulfilled
	}
	switch r := ret.(type) {
	case nil:
		l.next.settle(state, d.args)
	case *Deferred:
		if r == nil {
			l.next.settle(state, d.args)
			return
		}
		adopt(l.next, r, d.state)
	default:
		l.next.settle(state, []any{r})
	}
}

// adopt makes next follow inner. The transition keeps only the half matching
// the outcome that produced inner: after a fulfillment, next skips its own
// rejection callbacks, and after a rejection it skips its fulfillment
// callbacks. Either way the outcome still travels down the chain.
func adopt(next, inner *Deferred, via State) {
	if next == inner {
		return
	}
	if via == Fulfilled {
		next.discard = Rejected
	} else {
		next.discard = Fulfilled
	}
	observer := &link{
		onFulfilled: func(args []any) any { next.settle(Fulfilled, args); return nil },
		onRejected:  func(args []any) any { next.settle(Rejected, args); return nil },
		observe:     true,
	}
	if inner.state == Pending {
		inner.links = append(inner.links, observer)
		return
	}
	inner.fire(observer)
}
