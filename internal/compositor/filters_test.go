package compositor

import (
	"strings"
	"testing"

	"github.com/clipforge/clipforge/internal/models"
)

func TestSortSamplesDefensive(t *testing.T) {
	samples := []models.CropSample{
		{T: 2.0, X: 30},
		{T: 0.0, X: 10},
		{T: 1.0, X: 20},
	}
	sorted := sortSamples(samples)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].T < sorted[i-1].T {
			t.Fatalf("samples not sorted: %v", sorted)
		}
	}
	// Input slice untouched
	if samples[0].T != 2.0 {
		t.Errorf("sortSamples mutated its input")
	}
}

func TestClampSamples(t *testing.T) {
	samples := []models.CropSample{
		{T: 0, X: -5, Y: 10, W: 600, H: 1080},
		{T: 1, X: 1400, Y: 0, W: 600, H: 1080},
		{T: 2, X: 0, Y: 0, W: 3000, H: 2000},
	}
	clamped := clampSamples(samples, 1920, 1080)

	if clamped[0].X != 0 {
		t.Errorf("negative x should clamp to 0, got %d", clamped[0].X)
	}
	if clamped[1].X != 1320 {
		t.Errorf("overflowing x should clamp to 1320, got %d", clamped[1].X)
	}
	if clamped[2].W != 1920 || clamped[2].H != 1080 {
		t.Errorf("oversized window should clamp to frame, got %dx%d", clamped[2].W, clamped[2].H)
	}
	for i, s := range clamped {
		if s.X < 0 || s.Y < 0 || s.X+s.W > 1920 || s.Y+s.H > 1080 {
			t.Errorf("sample %d escapes the frame: %+v", i, s)
		}
	}
	// Input untouched
	if samples[0].X != -5 {
		t.Errorf("clampSamples mutated its input")
	}
}

func TestBuildCropSchedule(t *testing.T) {
	samples := []models.CropSample{
		{T: 0, X: 100, Y: 50},
		{T: 0.5, X: 110, Y: 52},
	}
	got := buildCropSchedule(samples, 0)
	want := "0.000 crop x 100, crop y 50;\n0.500 crop x 110, crop y 52;\n"
	if got != want {
		t.Errorf("schedule mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestBuildCropScheduleRebase(t *testing.T) {
	samples := []models.CropSample{
		{T: 5.0, X: 100, Y: 50},
		{T: 5.5, X: 110, Y: 52},
	}
	got := buildCropSchedule(samples, 5.0)
	if !strings.HasPrefix(got, "0.000 crop x 100") {
		t.Errorf("expected first line rebased to 0.000, got %q", got)
	}
	if !strings.Contains(got, "0.500 crop x 110") {
		t.Errorf("expected second line at 0.500, got %q", got)
	}
}

func TestBuildDynamicCropFilter(t *testing.T) {
	first := models.CropSample{T: 0, X: 420, Y: 0, W: 607, H: 1080}
	got := buildDynamicCropFilter(first, "/tmp/job.cmd", 1080, 1920, "")

	// Odd crop width rounds down to even
	if !strings.Contains(got, "crop=w=606:h=1080:x=420:y=0") {
		t.Errorf("crop term wrong: %s", got)
	}
	if !strings.Contains(got, "sendcmd=f='/tmp/job.cmd'") {
		t.Errorf("sendcmd term wrong: %s", got)
	}
	if !strings.Contains(got, "scale=1080:1920") {
		t.Errorf("scale term wrong: %s", got)
	}
	if strings.Contains(got, "ass=") {
		t.Errorf("unexpected caption filter without ass path: %s", got)
	}
}

func TestSplitHeights(t *testing.T) {
	tests := []struct {
		outH, ratio         int
		wantTop, wantBottom int
	}{
		{1920, 50, 960, 960},
		{1920, 60, 1152, 768},
		{1920, 30, 576, 1344},
		// Out-of-range ratios clamp to [30, 70]
		{1920, 10, 576, 1344},
		{1920, 95, 1344, 576},
		// Odd product rounds top down, bottom takes the remainder
		{1080, 33, 356, 724},
	}
	for _, tt := range tests {
		top, bottom := SplitHeights(tt.outH, tt.ratio)
		if top != tt.wantTop || bottom != tt.wantBottom {
			t.Errorf("SplitHeights(%d, %d) = (%d, %d), want (%d, %d)",
				tt.outH, tt.ratio, top, bottom, tt.wantTop, tt.wantBottom)
		}
		if top+bottom != tt.outH {
			t.Errorf("SplitHeights(%d, %d): regions sum to %d", tt.outH, tt.ratio, top+bottom)
		}
		if top%2 != 0 {
			t.Errorf("SplitHeights(%d, %d): odd top height %d", tt.outH, tt.ratio, top)
		}
	}
}

func TestBuildSplitFilterSelfPiP(t *testing.T) {
	c := &models.CropResult{
		Mode:       models.CropModeSplit,
		Screen:     models.Rect{X: 0, Y: 0, W: 1920, H: 540},
		PiP:        models.Rect{X: 480, Y: 540, W: 960, H: 540},
		SplitRatio: 50,
	}
	got := buildSplitFilter(c, 1080, 1920, false, "")

	if !strings.Contains(got, "[0:v]crop=1920:540:0:0,scale=1080:960") {
		t.Errorf("screen branch wrong: %s", got)
	}
	if !strings.Contains(got, "[0:v]crop=960:540:480:540,scale=1080:960") {
		t.Errorf("pip branch wrong: %s", got)
	}
	if !strings.Contains(got, "[top][bottom]vstack=inputs=2[v]") {
		t.Errorf("stack term wrong: %s", got)
	}
}

func TestBuildSplitFilterBackground(t *testing.T) {
	c := &models.CropResult{
		Mode:       models.CropModeSplit,
		Screen:     models.Rect{X: 0, Y: 0, W: 1920, H: 540},
		PiP:        models.Rect{X: 480, Y: 540, W: 960, H: 540},
		SplitRatio: 50,
	}
	got := buildSplitFilter(c, 1080, 1920, true, "")

	if !strings.Contains(got, "[1:v]scale=1080:960:force_original_aspect_ratio=increase,crop=1080:960") {
		t.Errorf("background branch wrong: %s", got)
	}
	if strings.Contains(got, "[0:v]crop=960:540") {
		t.Errorf("pip crop should be replaced by background: %s", got)
	}
}

func TestBuildSplitFilterCaptions(t *testing.T) {
	c := &models.CropResult{
		Mode:       models.CropModeSplit,
		Screen:     models.Rect{W: 1920, H: 540},
		PiP:        models.Rect{W: 960, H: 540},
		SplitRatio: 50,
	}
	got := buildSplitFilter(c, 1080, 1920, false, "/tmp/captions.ass")
	if !strings.Contains(got, "vstack=inputs=2,ass='/tmp/captions.ass'[v]") {
		t.Errorf("captions should burn after the stack: %s", got)
	}
}

func TestBuildAspectFitFilter(t *testing.T) {
	got := buildAspectFitFilter(1080, 1920, "")
	want := "scale=1080:1920:force_original_aspect_ratio=decrease:force_divisible_by=2,pad=1080:1920:(ow-iw)/2:(oh-ih)/2:black,setsar=1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	// The scale must constrain both axes so pad accepts sources that are
	// proportionally taller than the frame, not just wider ones
	if !strings.Contains(got, "force_original_aspect_ratio=decrease") {
		t.Errorf("scale must fit inside the frame on both axes: %s", got)
	}
}

func TestEscapeFilterPath(t *testing.T) {
	got := escapeFilterPath(`C:\tmp\job.cmd`)
	if !strings.Contains(got, `\:`) || !strings.Contains(got, `\\`) {
		t.Errorf("colon and backslash should be escaped: %q", got)
	}
}

func TestOutputSize(t *testing.T) {
	tests := []struct {
		aspect  models.AspectRatio
		quality models.QualityTier
		wantW   int
		wantH   int
	}{
		{models.AspectPortrait, models.Quality1080p, 1080, 1920},
		{models.AspectSquare, models.Quality1080p, 1080, 1080},
		{models.AspectLandscape, models.Quality1080p, 1920, 1080},
		{models.AspectPortrait, models.Quality720p, 720, 1280},
		{models.AspectLandscape, models.Quality720p, 1280, 720},
	}
	for _, tt := range tests {
		req := &models.RenderRequest{AspectRatio: tt.aspect, Quality: tt.quality}
		w, h, err := outputSize(req)
		if err != nil {
			t.Fatalf("outputSize(%s, %s): %v", tt.aspect, tt.quality, err)
		}
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("outputSize(%s, %s) = %dx%d, want %dx%d",
				tt.aspect, tt.quality, w, h, tt.wantW, tt.wantH)
		}
	}
}
