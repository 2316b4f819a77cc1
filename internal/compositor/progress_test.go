package compositor

import "testing"

func TestParseEncodeTime(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame=  240 fps= 48 q=28.0 size=    1024kB time=00:00:10.05 bitrate= 834.6kbits/s speed=2.01x", 10.05, true},
		{"frame= 1440 fps= 47 q=28.0 size=    6144kB time=00:01:00.00 bitrate= 838.9kbits/s speed=1.97x", 60.0, true},
		{"size=   12288kB time=01:02:03.50 bitrate= 834.6kbits/s", 3723.5, true},
		{"Stream #0:0: Video: h264", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseEncodeTime(tt.line)
		if ok != tt.ok {
			t.Errorf("parseEncodeTime(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("parseEncodeTime(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestProgressSink(t *testing.T) {
	var last float64
	sink := progressSink(20.0, func(frac float64) { last = frac })

	sink("time=00:00:05.00 bitrate=...")
	if last != 0.25 {
		t.Errorf("expected 0.25, got %v", last)
	}

	// Positions past the expected duration clamp to 1
	sink("time=00:00:30.00 bitrate=...")
	if last != 1.0 {
		t.Errorf("expected clamp to 1.0, got %v", last)
	}

	// Lines without a time field are ignored
	last = -1
	sink("configuration: --enable-gpl")
	if last != -1 {
		t.Errorf("non-time line should not report progress")
	}
}

func TestProgressSinkNilCallback(t *testing.T) {
	if progressSink(20, nil) != nil {
		t.Errorf("nil callback should yield nil sink")
	}
	if progressSink(0, func(float64) {}) != nil {
		t.Errorf("zero duration should yield nil sink")
	}
}
