package compositor

import "testing"

func TestParseStreamParams(t *testing.T) {
	got, err := parseStreamParams("h264,1080,1920,yuv420p\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := streamParams{Codec: "h264", Width: 1080, Height: 1920, PixelFmt: "yuv420p"}
	if *got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseStreamParamsMalformed(t *testing.T) {
	for _, out := range []string{"", "h264,1080", "h264,abc,1920,yuv420p"} {
		if _, err := parseStreamParams(out); err == nil {
			t.Errorf("expected error for %q", out)
		}
	}
}
