// Package id generates identifiers for runtime objects.
//
// Contexts and spawn jobs get prefixed ULIDs (ctx_*, job_*) so logs sort by
// creation time. Executable units and script-requested ids are UUIDs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ContextID identifies one engine context lifetime
type ContextID string

// JobID identifies a spawned subprocess
type JobID string

// UnitID identifies a compiled executable unit
type UnitID string

const (
	ContextPrefix = "ctx"
	JobPrefix     = "job"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with monotonic entropy, so ids made in
// the same millisecond still sort in creation order.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewContextID generates a new context ID
func NewContextID() ContextID {
	return ContextID(Default().GenerateWithPrefix(ContextPrefix))
}

// NewJobID generates a new job ID
func NewJobID() JobID {
	return JobID(Default().GenerateWithPrefix(JobPrefix))
}

// NewUnitID generates a new unit ID
func NewUnitID() UnitID {
	return UnitID(uuid.NewString())
}

// NewScriptID returns a random id for scripts (util.generateId, script.generateId).
func NewScriptID() string {
	return uuid.NewString()
}

func (id ContextID) String() string { return string(id) }
func (id JobID) String() string     { return string(id) }
func (id UnitID) String() string    { return string(id) }

// Timestamp extracts the creation time of a prefixed ULID.
func Timestamp(id string) (time.Time, error) {
	if _, rest, ok := strings.Cut(id, "_"); ok {
		id = rest
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
