// Package system runs subprocesses for scripts and implements the small
// process and filesystem helpers of the system namespace.
package system

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/id"
	"github.com/GriffinCanCode/scriptbridge/internal/monitoring"
)

var (
	ErrEmptyCommand     = errors.New("system: empty command")
	ErrTerminalDisabled = errors.New("system: terminal mode disabled")
)

// DefaultMaxLineBytes bounds one delivered line; longer lines arrive in
// pieces.
const DefaultMaxLineBytes = 64 << 10

// Result is the outcome of a finished child. Status is the exit code, or
// the signal number when the child was killed.
type Result struct {
	Stdout string
	Stderr string
	Status int
}

// Options configures an asynchronous spawn.
type Options struct {
	// Env is merged over the current environment.
	Env map[string]string
	// Stdin, when set, is written to the child followed by a newline.
	Stdin *string

	// OnStdout and OnStderr receive output line by line, newline included,
	// on reader goroutines.
	OnStdout func(line string)
	OnStderr func(line string)

	CacheStdout bool
	CacheStderr bool

	// Terminal runs the child on a pseudo-terminal. Its output arrives as
	// stdout.
	Terminal bool
}

// Config configures a Runner.
type Config struct {
	MaxLineBytes  int
	AllowTerminal bool
}

// Runner starts subprocesses.
type Runner struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics
	cfg     Config
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(logger *zap.Logger, metrics *monitoring.Metrics, cfg Config) *Runner {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Runner{logger: logger.Named("system"), metrics: metrics, cfg: cfg}
}

func (r *Runner) count(mode string) {
	if r.metrics != nil {
		r.metrics.ProcessesSpawned.WithLabelValues(mode).Inc()
	}
}

func command(ctx context.Context, line string, env map[string]string) (*exec.Cmd, error) {
	args, err := shellwords.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = Environ(env)
	return cmd, nil
}

// Environ returns the current environment with overrides applied.
func Environ(overrides map[string]string) []string {
	env := os.Environ()
	if len(overrides) == 0 {
		return env
	}
	out := make([]string, 0, len(env)+len(overrides))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[name]; !ok {
			out = append(out, kv)
		}
	}
	for name, value := range overrides {
		out = append(out, name+"="+value)
	}
	return out
}

// Run runs a command to completion and collects its output. It blocks the
// caller for the lifetime of the child.
func (r *Runner) Run(ctx context.Context, line string, env map[string]string) (Result, error) {
	cmd, err := command(ctx, line, env)
	if err != nil {
		return Result{}, err
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.count("sync")
	err = cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState == nil {
		return res, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	res.Status = status(cmd.ProcessState)
	return res, nil
}

// Job is a running asynchronous child.
type Job struct {
	ID  id.JobID
	Pid int
}

// Start launches a command and returns once it runs. done is called on a
// background goroutine after both output streams are drained and the
// child has been reaped; every line callback happens before it.
func (r *Runner) Start(line string, opts Options, done func(Result)) (*Job, error) {
	if opts.Terminal && !r.cfg.AllowTerminal {
		return nil, ErrTerminalDisabled
	}
	cmd, err := command(context.Background(), line, opts.Env)
	if err != nil {
		return nil, err
	}

	job := &Job{ID: id.NewJobID()}
	if opts.Terminal {
		err = r.startTerminal(job, cmd, opts, done)
	} else {
		err = r.startPipes(job, cmd, opts, done)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("spawned",
		zap.String("job", job.ID.String()),
		zap.String("command", line),
		zap.Int("pid", job.Pid),
		zap.Bool("terminal", opts.Terminal))
	return job, nil
}

// stream collects one output channel.
type stream struct {
	onLine func(string)
	cache  bool
	buf    strings.Builder
}

func newStream(onLine func(string), cache bool) *stream {
	return &stream{onLine: onLine, cache: cache || onLine != nil}
}

func (s *stream) line(l string) {
	if s.cache {
		s.buf.WriteString(l)
	}
	if s.onLine != nil {
		s.onLine(l)
	}
}

func (r *Runner) startPipes(job *Job, cmd *exec.Cmd, opts Options, done func(Result)) error {
	out := newStream(opts.OnStdout, opts.CacheStdout)
	errs := newStream(opts.OnStderr, opts.CacheStderr)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	var stdin io.WriteCloser
	if opts.Stdin != nil {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return err
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	job.Pid = cmd.Process.Pid
	r.count("pipe")

	if stdin != nil {
		go func() {
			defer stdin.Close()
			if _, err := io.WriteString(stdin, *opts.Stdin+"\n"); err != nil {
				r.logger.Debug("failed to write stdin", zap.String("job", job.ID.String()), zap.Error(err))
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); readLines(stdout, r.cfg.MaxLineBytes, out.line) }()
	go func() { defer wg.Done(); readLines(stderr, r.cfg.MaxLineBytes, errs.line) }()

	go func() {
		wg.Wait()
		res := Result{Status: -1}
		if err := cmd.Wait(); err != nil && cmd.ProcessState == nil {
			r.logger.Warn("failed to reap child", zap.String("job", job.ID.String()), zap.Error(err))
		}
		if cmd.ProcessState != nil {
			res.Status = status(cmd.ProcessState)
		}
		res.Stdout, res.Stderr = out.buf.String(), errs.buf.String()
		done(res)
	}()
	return nil
}

func (r *Runner) startTerminal(job *Job, cmd *exec.Cmd, opts Options, done func(Result)) error {
	out := newStream(opts.OnStdout, opts.CacheStdout)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}
	job.Pid = cmd.Process.Pid
	r.count("terminal")

	if opts.Stdin != nil {
		if _, err := io.WriteString(ptmx, *opts.Stdin+"\n"); err != nil {
			r.logger.Debug("failed to write stdin", zap.String("job", job.ID.String()), zap.Error(err))
		}
	}

	go func() {
		// The master side reports EIO once the child side is gone.
		readLines(ptmx, r.cfg.MaxLineBytes, out.line)
		res := Result{Status: -1}
		cmd.Wait()
		ptmx.Close()
		if cmd.ProcessState != nil {
			res.Status = status(cmd.ProcessState)
		}
		res.Stdout = out.buf.String()
		done(res)
	}()
	return nil
}

// readLines delivers r line by line. A final unterminated line is
// delivered as is.
func readLines(r io.Reader, size int, fn func(string)) {
	br := bufio.NewReaderSize(r, size)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			fn(string(chunk))
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return
		}
	}
}

func status(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		switch {
		case ws.Exited():
			return ws.ExitStatus()
		case ws.Signaled():
			return int(ws.Signal())
		case ws.Stopped():
			return int(ws.StopSignal())
		}
	}
	return ps.ExitCode()
}
