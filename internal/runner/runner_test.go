package runner

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRunCapturesStdoutLines(t *testing.T) {
	var lines []string
	_, err := Run(context.Background(), "sh", []string{"-c", "echo one; echo two"}, Options{
		Stdout: func(line string) { lines = append(lines, line) },
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("unexpected stdout lines: %v", lines)
	}
}

func TestRunNonZeroExitReturnsProcessError(t *testing.T) {
	_, err := Run(context.Background(), "sh", []string{"-c", "echo boom >&2; exit 3"}, Options{})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessError, got %T: %v", err, err)
	}
	if perr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", perr.ExitCode)
	}
	if !strings.Contains(perr.Tail, "boom") {
		t.Errorf("expected stderr tail to contain 'boom', got %q", perr.Tail)
	}
}

func TestRunMissingExecutableReturnsSpawnError(t *testing.T) {
	_, err := Run(context.Background(), "definitely-not-a-real-binary-xyz", nil, Options{})
	if err == nil {
		t.Fatal("expected error for missing executable")
	}

	var serr *SpawnError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SpawnError, got %T: %v", err, err)
	}
}

func TestStderrTailIsBounded(t *testing.T) {
	// Emit well over the tail limit on stderr
	_, err := Run(context.Background(), "sh", []string{"-c", "for i in $(seq 1 200); do echo 'padding line for the stderr tail buffer' >&2; done; exit 1"}, Options{})

	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if len(perr.Tail) > stderrTailLimit {
		t.Errorf("tail exceeds limit: %d > %d", len(perr.Tail), stderrTailLimit)
	}
	if len(perr.Tail) == 0 {
		t.Error("expected non-empty tail")
	}
}

func TestStartPipesStdout(t *testing.T) {
	p, err := Start(context.Background(), "sh", []string{"-c", "printf 'streamed-bytes'"}, Options{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	data, err := io.ReadAll(p.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if string(data) != "streamed-bytes" {
		t.Errorf("unexpected stdout: %q", data)
	}

	if err := p.Wait(); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestStartWaitReportsFailure(t *testing.T) {
	p, err := Start(context.Background(), "sh", []string{"-c", "echo fail-detail >&2; exit 2"}, Options{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	io.Copy(io.Discard, p.Stdout)

	err = p.Wait()
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if perr.ExitCode != 2 || !strings.Contains(perr.Tail, "fail-detail") {
		t.Errorf("unexpected process error: %+v", perr)
	}
}

func TestScanCROrLF(t *testing.T) {
	var got []string
	scanLines(strings.NewReader("line one\rline two\nline three"), func(line string) {
		got = append(got, line)
	}, nil)
	want := []string{"line one", "line two", "line three"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(10)
	tb.Write("aaaa")
	tb.Write("bbbb")
	tb.Write("cccc")
	s := tb.String()
	if len(s) > 10 {
		t.Errorf("tail too long: %q", s)
	}
	if !strings.Contains(s, "cccc") {
		t.Errorf("expected most recent write in tail, got %q", s)
	}
}
