package compositor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// streamParams is the set of video stream properties that must agree across
// mixed-mode segments for stream-copy concatenation to be valid.
type streamParams struct {
	Codec    string
	Width    int
	Height   int
	PixelFmt string
}

func (p *streamParams) String() string {
	return fmt.Sprintf("%s %dx%d %s", p.Codec, p.Width, p.Height, p.PixelFmt)
}

// ProbeDuration returns the container duration of a local media file in
// seconds.
func (e *Engine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := e.runProbe(ctx, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to probe duration of %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe duration output %q: %w", out, err)
	}
	return dur, nil
}

func (e *Engine) probeStreamParams(ctx context.Context, path string) (*streamParams, error) {
	out, err := e.runProbe(ctx, []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,pix_fmt",
		"-of", "csv=p=0",
		path,
	})
	if err != nil {
		return nil, err
	}
	return parseStreamParams(out)
}

func parseStreamParams(out string) (*streamParams, error) {
	fields := strings.Split(strings.TrimSpace(out), ",")
	if len(fields) != 4 {
		return nil, fmt.Errorf("unexpected ffprobe stream output: %q", out)
	}
	w, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("bad stream width %q: %w", fields[1], err)
	}
	h, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("bad stream height %q: %w", fields[2], err)
	}
	return &streamParams{
		Codec:    fields[0],
		Width:    w,
		Height:   h,
		PixelFmt: fields[3],
	}, nil
}

func (e *Engine) runProbe(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, e.ffprobe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffprobe failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
