package models

import (
	"encoding/json"
	"testing"
)

func TestRenderRequestValidate(t *testing.T) {
	valid := RenderRequest{
		SourceURL:   "https://example.com/video.mp4",
		StartTime:   10,
		EndTime:     40,
		AspectRatio: AspectPortrait,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got: %v", err)
	}

	noSource := valid
	noSource.SourceURL = ""
	if err := noSource.Validate(); err == nil {
		t.Error("expected error for missing source")
	}

	bothSources := valid
	bothSources.SourceKey = "videos/abc.mp4"
	if err := bothSources.Validate(); err == nil {
		t.Error("expected error for both source_url and source_key")
	}

	reversed := valid
	reversed.StartTime = 40
	reversed.EndTime = 10
	if err := reversed.Validate(); err == nil {
		t.Error("expected error for end_time <= start_time")
	}

	badRatio := valid
	badRatio.AspectRatio = "4:3"
	if err := badRatio.Validate(); err == nil {
		t.Error("expected error for unknown aspect ratio")
	}

	badCaption := valid
	badCaption.Captions = []CaptionLine{{Text: "hi", StartOffset: 2, EndOffset: 1}}
	if err := badCaption.Validate(); err == nil {
		t.Error("expected error for inverted caption offsets")
	}
}

func TestRenderRequestDuration(t *testing.T) {
	r := RenderRequest{StartTime: 12.5, EndTime: 42.5}
	if d := r.Duration(); d != 30 {
		t.Errorf("expected duration 30, got %v", d)
	}
}

func TestCropResultUnmarshalTagged(t *testing.T) {
	raw := `{"mode":"split","screen":{"x":0,"y":0,"w":960,"h":1080},"pip":{"x":1400,"y":700,"w":400,"h":300},"split_ratio":60}`

	var c CropResult
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if c.Mode != CropModeSplit {
		t.Errorf("expected split mode, got %q", c.Mode)
	}
	if c.Screen.W != 960 || c.PiP.H != 300 {
		t.Errorf("regions not parsed: screen=%+v pip=%+v", c.Screen, c.PiP)
	}
	if c.SplitRatio != 60 {
		t.Errorf("expected split_ratio 60, got %d", c.SplitRatio)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("expected valid split result: %v", err)
	}
}

func TestCropResultUnmarshalLegacyArray(t *testing.T) {
	raw := `[{"t":0,"x":0,"y":0,"w":607,"h":1080},{"t":0.1,"x":12,"y":0,"w":607,"h":1080}]`

	var c CropResult
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if c.Mode != CropModeDynamic {
		t.Errorf("expected crop mode for bare array, got %q", c.Mode)
	}
	if len(c.Samples) != 2 || c.Samples[1].X != 12 {
		t.Errorf("samples not parsed: %+v", c.Samples)
	}
}

func TestCropResultValidate(t *testing.T) {
	empty := CropResult{Mode: CropModeDynamic}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for crop mode without samples")
	}

	unknown := CropResult{Mode: "face_zoom"}
	if err := unknown.Validate(); err == nil {
		t.Error("expected error for unknown mode")
	}

	skip := CropResult{Mode: CropModeSkip}
	if err := skip.Validate(); err != nil {
		t.Errorf("skip mode should validate: %v", err)
	}

	overlapping := CropResult{
		Mode: CropModeMixed,
		Segments: []MixedSegment{
			{Type: SegmentFace, Start: 0, End: 5, Samples: []CropSample{{T: 0, W: 600, H: 1080}}},
			{Type: SegmentLetterbox, Start: 4, End: 8},
		},
	}
	if err := overlapping.Validate(); err == nil {
		t.Error("expected error for overlapping segments")
	}

	faceNoSamples := CropResult{
		Mode:     CropModeMixed,
		Segments: []MixedSegment{{Type: SegmentFace, Start: 0, End: 5}},
	}
	if err := faceNoSamples.Validate(); err == nil {
		t.Error("expected error for face segment without samples")
	}
}

func TestClampSplitRatio(t *testing.T) {
	tests := map[int]int{
		0:   SplitRatioDefault,
		10:  30,
		30:  30,
		50:  50,
		70:  70,
		95:  70,
		-20: 30,
	}
	for in, want := range tests {
		if got := ClampSplitRatio(in); got != want {
			t.Errorf("ClampSplitRatio(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestAspectRatioOutputSize(t *testing.T) {
	w, h, err := AspectPortrait.OutputSize()
	if err != nil || w != 1080 || h != 1920 {
		t.Errorf("portrait: got %dx%d, %v", w, h, err)
	}
	if _, _, err := AspectRatio("21:9").OutputSize(); err == nil {
		t.Error("expected error for unsupported ratio")
	}
}

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"font":      "Noto Sans",
		"highlight": "#9932CC",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["font"] != "Noto Sans" {
		t.Errorf("expected font=Noto Sans, got %v", result["font"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"font_size": 96, "uppercase": true}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["font_size"].(float64) != 96 {
		t.Errorf("expected font_size=96, got %v", j["font_size"])
	}
}

func TestJobStatus(t *testing.T) {
	statuses := []JobStatus{
		JobStatusQueued,
		JobStatusActive,
		JobStatusCompleted,
		JobStatusFailed,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}
