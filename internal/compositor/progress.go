package compositor

import (
	"regexp"
	"strconv"
)

// ffmpeg reports encode position on stderr as "... time=00:01:23.45 ...".
var timeRe = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// parseEncodeTime extracts the encoded position in seconds from an ffmpeg
// stderr line. Returns false for lines without a time field.
func parseEncodeTime(line string) (float64, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + minutes*60 + seconds, true
}

// progressSink builds a stderr line sink that converts encode time into a
// 0..1 fraction of the expected duration and forwards it to onProgress.
func progressSink(totalSeconds float64, onProgress func(frac float64)) func(line string) {
	if onProgress == nil || totalSeconds <= 0 {
		return nil
	}
	return func(line string) {
		pos, ok := parseEncodeTime(line)
		if !ok {
			return
		}
		frac := pos / totalSeconds
		if frac > 1 {
			frac = 1
		}
		onProgress(frac)
	}
}
