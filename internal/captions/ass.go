package captions

import (
	"fmt"
	"os"
	"strings"

	"github.com/clipforge/clipforge/internal/models"
)

// ---------------------------------------------------------------------------
// ASS caption generator
//
// Burns the render request's caption payload into the clip as bold,
// bottom-centered ASS (Advanced SubStation Alpha) cues. Cue timing comes from
// the request (clip-local seconds), not from any transcription step.
// ---------------------------------------------------------------------------

const (
	defaultFontName = "Noto Sans"
	defaultFontSize = 64

	// ASS colors are in &HAABBGGRR format (hex, note: BGR not RGB)
	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorSemiBlack = "&H80000000"

	defaultOutline = 3
	defaultMarginV = 120
)

// Style holds the caption rendering knobs a request may override.
type Style struct {
	FontName  string
	FontSize  int
	MarginV   int
	Uppercase bool
}

// StyleFromParams extracts caption style overrides from the request's
// free-form style parameters, falling back to defaults.
func StyleFromParams(params models.JSONB) Style {
	st := Style{
		FontName:  defaultFontName,
		FontSize:  defaultFontSize,
		MarginV:   defaultMarginV,
		Uppercase: true,
	}
	if params == nil {
		return st
	}
	if v, ok := params["font"].(string); ok && v != "" {
		st.FontName = v
	}
	if v, ok := params["font_size"].(float64); ok && v > 0 {
		st.FontSize = int(v)
	}
	if v, ok := params["margin_v"].(float64); ok && v > 0 {
		st.MarginV = int(v)
	}
	if v, ok := params["uppercase"].(bool); ok {
		st.Uppercase = v
	}
	return st
}

// WriteASS renders the caption cues to an ASS file sized for the output
// canvas. Returns an error when there are no cues; callers should skip the
// burn-in step instead of writing an empty file.
func WriteASS(lines []models.CaptionLine, outputPath string, outW, outH int, style Style) error {
	if len(lines) == 0 {
		return fmt.Errorf("no caption lines to write")
	}

	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", outW)
	fmt.Fprintf(&sb, "PlayResY: %d\n", outH)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")

	// Bold white text with black outline, bottom-center aligned
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,1,0,1,%d,0,2,40,40,%d,1\n",
		style.FontName, style.FontSize,
		assColorWhite,     // PrimaryColour (text)
		assColorWhite,     // SecondaryColour
		assColorBlack,     // OutlineColour
		assColorSemiBlack, // BackColour (shadow)
		defaultOutline,
		style.MarginV,
	)

	sb.WriteString("\n")
	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, line := range lines {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		if style.Uppercase {
			text = strings.ToUpper(text)
		}
		// ASS treats newlines as \N
		text = strings.ReplaceAll(text, "\n", "\\N")

		fmt.Fprintf(&sb,
			"Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(line.StartOffset),
			formatASSTime(line.EndOffset),
			text,
		)
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ASS caption file: %w", err)
	}

	return nil
}

// formatASSTime converts seconds to ASS timestamp format: H:MM:SS.CC (centiseconds)
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centiseconds := int((seconds - float64(int(seconds))) * 100)

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
