package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/monitoring"
)

// Discover walks dir and returns the files whose slash-separated path
// relative to dir matches any pattern, sorted.
func Discover(dir string, patterns []string) ([]string, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid script pattern %q", p)
		}
	}

	var (
		mu      sync.Mutex
		matches []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				mu.Lock()
				matches = append(matches, p)
				mu.Unlock()
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	sort.Strings(matches)
	return matches, nil
}

// Loader discovers and compiles the scripts of a directory.
type Loader struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// New creates a loader. metrics may be nil.
func New(logger *zap.Logger, metrics *monitoring.Metrics) *Loader {
	return &Loader{logger: logger.Named("loader"), metrics: metrics}
}

// LoadDir compiles every matching script under dir. Scripts that fail are
// logged and skipped.
func (l *Loader) LoadDir(dir string, patterns []string) ([]*Unit, error) {
	paths, err := Discover(dir, patterns)
	if err != nil {
		return nil, err
	}

	units := make([]*Unit, 0, len(paths))
	for _, p := range paths {
		u, err := Load(p)
		if err != nil {
			l.logger.Error("failed to load script", zap.String("path", p), zap.Error(err))
			if l.metrics != nil {
				l.metrics.UnitLoadFailures.Inc()
			}
			continue
		}
		l.logger.Debug("compiled script", zap.String("path", p), zap.String("unit", u.ID.String()))
		units = append(units, u)
	}
	return units, nil
}
