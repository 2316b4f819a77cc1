package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// stderrTailLimit bounds how much stderr is kept for error reporting. Encoders
// can emit megabytes of progress lines on long jobs; only the tail is useful
// for diagnosing a non-zero exit.
const stderrTailLimit = 500

// LineSink receives one line of process output at a time.
type LineSink func(line string)

// Options configures a process run. Nil sinks discard output (stderr is still
// tail-captured for error reporting).
type Options struct {
	Dir    string
	Env    []string
	Stdout LineSink
	Stderr LineSink
}

// Outcome is the result of a successful run.
type Outcome struct {
	ExitCode int
}

// SpawnError means the executable could not be launched at all (not found,
// permission denied). Never worth retrying.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessError means the process started but exited non-zero. Tail holds the
// last portion of stderr.
type ProcessError struct {
	Executable string
	ExitCode   int
	Tail       string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Executable, e.ExitCode, e.Tail)
}

// Run spawns the executable, streams stdout and stderr line-by-line to the
// configured sinks, and waits for it to exit. There is no implicit timeout;
// callers bound the run through ctx.
func Run(ctx context.Context, executable string, args []string, opts Options) (*Outcome, error) {
	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}

	tail := newTailBuffer(stderrTailLimit)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, opts.Stdout, nil)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, opts.Stderr, tail)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, &ProcessError{
				Executable: executable,
				ExitCode:   exitErr.ExitCode(),
				Tail:       tail.String(),
			}
		}
		return nil, fmt.Errorf("wait for %s: %w", executable, err)
	}

	return &Outcome{ExitCode: 0}, nil
}

// Process is a running child whose stdout is exposed as a stream, for callers
// that pipe an encoder's output onward (e.g. into a network upload body).
type Process struct {
	Stdout io.ReadCloser

	executable string
	cmd        *exec.Cmd
	tail       *tailBuffer
	stderrDone chan struct{}
}

// Start spawns the executable with its stdout left as a pipe for the caller
// to consume. Stderr is streamed to the sink and tail-captured. The caller
// must drain Stdout and then call Wait.
func Start(ctx context.Context, executable string, args []string, opts Options) (*Process, error) {
	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}

	p := &Process{
		Stdout:     stdout,
		executable: executable,
		cmd:        cmd,
		tail:       newTailBuffer(stderrTailLimit),
		stderrDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stderrDone)
		scanLines(stderr, opts.Stderr, p.tail)
	}()

	return p, nil
}

// Wait blocks until the process exits and converts a non-zero exit into a
// ProcessError carrying the stderr tail.
func (p *Process) Wait() error {
	<-p.stderrDone
	if err := p.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ProcessError{
				Executable: p.executable,
				ExitCode:   exitErr.ExitCode(),
				Tail:       p.tail.String(),
			}
		}
		return fmt.Errorf("wait for %s: %w", p.executable, err)
	}
	return nil
}

// Kill terminates the child. Used by callers that wrap Start with their own
// timeout and treat the result as failed.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func scanLines(r io.Reader, sink LineSink, tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	// ffmpeg stderr lines can exceed the default 64KB token size when filter
	// graphs are echoed back
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanCROrLF)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.Write(line)
		}
		if sink != nil {
			sink(line)
		}
	}
}

// scanCROrLF splits on either line ending. ffmpeg rewrites its stats line in
// place with a bare carriage return, so newline-only splitting would starve
// progress reporting until the process exits.
func scanCROrLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last max characters written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
