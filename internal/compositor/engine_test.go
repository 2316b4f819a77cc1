package compositor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSegmentProgressConcurrentSteps(t *testing.T) {
	const total = 8

	var fracs []float64
	prog := &segmentProgress{total: total, report: func(frac float64) {
		fracs = append(fracs, frac)
	}}

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prog.step()
		}()
	}
	wg.Wait()

	if len(fracs) != total {
		t.Fatalf("got %d progress reports, want %d", len(fracs), total)
	}
	for i := 1; i < len(fracs); i++ {
		if fracs[i] <= fracs[i-1] {
			t.Errorf("report %d (%v) not above previous (%v)", i, fracs[i], fracs[i-1])
		}
	}
	if got := fracs[len(fracs)-1]; got != 0.8 {
		t.Errorf("final fraction = %v, want 0.8", got)
	}
}

func TestSegmentProgressNilReport(t *testing.T) {
	prog := &segmentProgress{total: 2}
	prog.step()
	prog.step()
	if prog.done != 2 {
		t.Errorf("done = %d, want 2", prog.done)
	}
}

func TestBuildConcatListPreservesOrder(t *testing.T) {
	paths := []string{
		"/scratch/job_segment_000.mp4",
		"/scratch/job_segment_001.mp4",
		"/scratch/job_segment_002.mp4",
	}
	got := buildConcatList(paths)
	want := "file '/scratch/job_segment_000.mp4'\n" +
		"file '/scratch/job_segment_001.mp4'\n" +
		"file '/scratch/job_segment_002.mp4'\n"
	if got != want {
		t.Errorf("concat list mismatch:\ngot  %q\nwant %q", got, want)
	}
}

// stubEncoder writes a shell script that records its arguments, standing in
// for the encoder binary.
func stubEncoder(t *testing.T, dir string) (bin, argsFile string) {
	t.Helper()
	argsFile = filepath.Join(dir, "args.txt")
	bin = filepath.Join(dir, "encoder.sh")
	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" > %s\n", argsFile)
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub encoder: %v", err)
	}
	return bin, argsFile
}

func TestExtractRangeSeeksBeforeInput(t *testing.T) {
	dir := t.TempDir()
	bin, argsFile := stubEncoder(t, dir)
	e := NewWithBinaries(nil, bin, "ffprobe")

	outPath := filepath.Join(dir, "analysis.mp4")
	if err := e.ExtractRange(context.Background(), "/media/source.mp4", 100, 105, outPath); err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("stub recorded no args: %v", err)
	}
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	want := []string{"-ss", "100.000", "-to", "105.000", "-i", "/media/source.mp4", "-c", "copy", "-y", outPath}
	if len(args) != len(want) {
		t.Fatalf("got %d args %v, want %d", len(args), args, len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, args[i], want[i])
		}
	}
}
