package captions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clipforge/clipforge/internal/models"
)

func TestWriteASS(t *testing.T) {
	out := filepath.Join(t.TempDir(), "caps.ass")
	lines := []models.CaptionLine{
		{Text: "welcome back", StartOffset: 0.5, EndOffset: 2.0},
		{Text: "to the show", StartOffset: 2.0, EndOffset: 4.25},
	}

	if err := WriteASS(lines, out, 1080, 1920, StyleFromParams(nil)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "PlayResX: 1080") || !strings.Contains(content, "PlayResY: 1920") {
		t.Error("canvas size missing from script info")
	}
	if !strings.Contains(content, "Dialogue: 0,0:00:00.50,0:00:02.00,Default,,0,0,0,,WELCOME BACK") {
		t.Errorf("first cue missing or mistimed:\n%s", content)
	}
	if !strings.Contains(content, "0:00:04.25") {
		t.Error("second cue end time missing")
	}
}

func TestWriteASSEmpty(t *testing.T) {
	out := filepath.Join(t.TempDir(), "caps.ass")
	if err := WriteASS(nil, out, 1080, 1920, Style{}); err == nil {
		t.Error("expected error for empty caption list")
	}
}

func TestStyleFromParams(t *testing.T) {
	st := StyleFromParams(models.JSONB{
		"font":      "Inter",
		"font_size": float64(96),
		"uppercase": false,
	})
	if st.FontName != "Inter" || st.FontSize != 96 {
		t.Errorf("overrides not applied: %+v", st)
	}
	if st.Uppercase {
		t.Error("uppercase override not applied")
	}
	if st.MarginV != defaultMarginV {
		t.Errorf("expected default margin, got %d", st.MarginV)
	}
}

func TestFormatASSTime(t *testing.T) {
	tests := map[float64]string{
		0:       "0:00:00.00",
		1.5:     "0:00:01.50",
		61.25:   "0:01:01.25",
		3723.99: "1:02:03.99",
		-2:      "0:00:00.00",
	}
	for in, want := range tests {
		if got := formatASSTime(in); got != want {
			t.Errorf("formatASSTime(%v) = %s, want %s", in, got, want)
		}
	}
}
