package compositor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/models"
)

// ---------------------------------------------------------------------------
// Filter graph builders: pure functions from crop data to ffmpeg filter
// expressions and sendcmd schedules. Kept separate from the engine so the
// graph construction is testable without spawning processes.
// ---------------------------------------------------------------------------

// sortSamples orders crop samples ascending by t. Sidecar output is already
// sorted; this is the defensive sort the dynamic-crop contract requires.
func sortSamples(samples []models.CropSample) []models.CropSample {
	sorted := make([]models.CropSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })
	return sorted
}

// buildCropSchedule renders a sendcmd schedule file body from crop samples.
// Each line moves the crop origin at the sample's timestamp; the crop size
// stays fixed at the first sample's (w,h) because downstream players cannot
// handle a resolution change mid-stream. rebase shifts sample timestamps
// into the encoded stream's local timeline (used for mixed-mode segments).
func buildCropSchedule(samples []models.CropSample, rebase float64) string {
	var sb strings.Builder
	for _, s := range samples {
		t := s.T - rebase
		if t < 0 {
			t = 0
		}
		fmt.Fprintf(&sb, "%s crop x %d, crop y %d;\n", formatSeconds(t), s.X, s.Y)
	}
	return sb.String()
}

// clampSamples constrains every crop window to the source frame. Sidecar
// coordinates near a frame edge can land a pixel or two outside it, which
// the crop filter rejects outright.
func clampSamples(samples []models.CropSample, srcW, srcH int) []models.CropSample {
	out := make([]models.CropSample, len(samples))
	copy(out, samples)
	for i := range out {
		s := &out[i]
		if s.W > srcW {
			s.W = srcW
		}
		if s.H > srcH {
			s.H = srcH
		}
		if s.X < 0 {
			s.X = 0
		}
		if s.Y < 0 {
			s.Y = 0
		}
		if s.X+s.W > srcW {
			s.X = srcW - s.W
		}
		if s.Y+s.H > srcH {
			s.Y = srcH - s.H
		}
	}
	return out
}

// evenDown rounds a dimension down to the nearest even value for libx264.
func evenDown(v int) int {
	return v - v%2
}

// buildDynamicCropFilter builds the filter chain for a moving-crop encode:
// sendcmd drives the crop origin from the schedule file, the crop size is
// the first sample's, then the result is scaled to the output resolution.
func buildDynamicCropFilter(first models.CropSample, schedulePath string, outW, outH int, assPath string) string {
	chain := fmt.Sprintf(
		"sendcmd=f='%s',crop=w=%d:h=%d:x=%d:y=%d,scale=%d:%d,setsar=1",
		escapeFilterPath(schedulePath),
		evenDown(first.W), evenDown(first.H), first.X, first.Y,
		outW, outH,
	)
	return withCaptions(chain, assPath)
}

// SplitHeights returns the even-rounded top and bottom region heights for a
// clamped split ratio. The bottom takes the remainder so the stack always
// sums to outH.
func SplitHeights(outH, splitRatio int) (top, bottom int) {
	ratio := models.ClampSplitRatio(splitRatio)
	top = evenDown(outH * ratio / 100)
	bottom = outH - top
	return top, bottom
}

// buildSplitFilter stacks the screen region over the picture-in-picture
// region. When the bottom region comes from a background asset the pip crop
// is replaced by a fill-crop of input 1.
func buildSplitFilter(c *models.CropResult, outW, outH int, useBackground bool, assPath string) string {
	top, bottom := SplitHeights(outH, c.SplitRatio)

	screen := fmt.Sprintf(
		"[0:v]crop=%d:%d:%d:%d,scale=%d:%d,setsar=1[top]",
		evenDown(c.Screen.W), evenDown(c.Screen.H), c.Screen.X, c.Screen.Y,
		outW, top,
	)

	var lower string
	if useBackground {
		// Fill the bottom region from the background input, cropping overflow
		lower = fmt.Sprintf(
			"[1:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1[bottom]",
			outW, bottom, outW, bottom,
		)
	} else {
		lower = fmt.Sprintf(
			"[0:v]crop=%d:%d:%d:%d,scale=%d:%d,setsar=1[bottom]",
			evenDown(c.PiP.W), evenDown(c.PiP.H), c.PiP.X, c.PiP.Y,
			outW, bottom,
		)
	}

	stack := "[top][bottom]vstack=inputs=2"
	if assPath != "" {
		stack += fmt.Sprintf(",ass='%s'", escapeFilterPath(assPath))
	}
	stack += "[v]"

	return screen + ";" + lower + ";" + stack
}

// buildAspectFitFilter scales the source to fit inside the target frame,
// preserving aspect ratio, and pads the rest with black, centered. Used for
// letterbox segments and for skip-mode fallbacks. The decrease constraint
// keeps pad valid for sources proportionally taller than the frame, which a
// width-only scale would push past the target height.
func buildAspectFitFilter(outW, outH int, assPath string) string {
	chain := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1",
		outW, outH, outW, outH,
	)
	return withCaptions(chain, assPath)
}

func withCaptions(chain, assPath string) string {
	if assPath == "" {
		return chain
	}
	return chain + fmt.Sprintf(",ass='%s'", escapeFilterPath(assPath))
}

// escapeFilterPath escapes special characters in file paths for FFmpeg
// filter syntax. Filter strings treat colons, backslashes, and single quotes
// specially.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
