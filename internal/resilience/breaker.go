// Package resilience keeps per-host circuit breakers for the requests
// scripts send.
//
// A circuit starts closed. Threshold consecutive failures open it, and an
// open circuit refuses requests until Cooldown has passed. The next
// request is then let through alone as a trial: success closes the
// circuit, failure opens it for another cooldown.
package resilience

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the breakers of a Set.
type Settings struct {
	// Threshold is the number of consecutive failures that opens a
	// circuit. Zero or less disables the breakers.
	Threshold int
	// Cooldown is how long a circuit stays open before a trial.
	Cooldown time.Duration
	// OnStateChange is called with the set's lock held; it must not call
	// back into the Set.
	OnStateChange func(key string, from, to State)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
	probing  bool
	// generation changes on every transition so outcomes reported for an
	// earlier state are ignored.
	generation uint64
}

// Set holds one circuit per key, usually a host name.
type Set struct {
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a breaker set.
func New(settings Settings) *Set {
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	return &Set{
		settings: settings,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// Allow asks to send a request to key. On success the returned func must
// be called once with the outcome of the request.
func (s *Set) Allow(key string) (func(success bool), error) {
	if s.settings.Threshold <= 0 {
		return func(bool) {}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.circuit(key)
	if c.state == StateOpen {
		if s.now().Sub(c.openedAt) < s.settings.Cooldown {
			return nil, ErrCircuitOpen
		}
		s.setState(key, c, StateHalfOpen)
	}
	if c.state == StateHalfOpen {
		if c.probing {
			return nil, ErrCircuitOpen
		}
		c.probing = true
	}

	generation := c.generation
	var once sync.Once
	return func(success bool) {
		once.Do(func() { s.record(key, generation, success) })
	}, nil
}

func (s *Set) record(key string, generation uint64, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[key]
	if !ok || c.generation != generation {
		return
	}
	if success {
		c.failures = 0
		if c.state == StateHalfOpen {
			s.setState(key, c, StateClosed)
		}
		return
	}

	c.failures++
	if c.state == StateHalfOpen || c.failures >= s.settings.Threshold {
		c.openedAt = s.now()
		s.setState(key, c, StateOpen)
	}
}

// State returns the state of the circuit for key. Unknown keys are closed.
func (s *Set) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[key]
	if !ok {
		return StateClosed
	}
	if c.state == StateOpen && s.now().Sub(c.openedAt) >= s.settings.Cooldown {
		return StateHalfOpen
	}
	return c.state
}

func (s *Set) circuit(key string) *circuit {
	c, ok := s.circuits[key]
	if !ok {
		c = &circuit{}
		s.circuits[key] = c
	}
	return c
}

func (s *Set) setState(key string, c *circuit, state State) {
	if c.state == state {
		return
	}
	prev := c.state
	c.state = state
	c.generation++
	c.probing = false
	if state == StateClosed {
		c.failures = 0
	}
	if s.settings.OnStateChange != nil {
		s.settings.OnStateChange(key, prev, state)
	}
}
