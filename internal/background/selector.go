package background

import (
	"math/rand"
	"strconv"
)

// Plan describes how a background asset of arbitrary duration is positioned
// in time against a fixed clip duration.
type Plan struct {
	// Loop means the encoder must loop the input (not repeat a single
	// decoded frame) because the asset is shorter than the clip.
	Loop bool
	// Offset is the seek into the background before reading.
	Offset float64
	// Duration is how much background to read; always the clip duration.
	Duration float64
}

// PlanTiming computes the three-way positioning split:
//   - asset shorter than the clip: loop from its start
//   - asset at least twice the clip: random offset for variety, then trim
//   - in between: offset 0, trim to the clip
//
// rng may be nil, in which case the global source is used.
func PlanTiming(clipDuration, backgroundDuration float64, rng *rand.Rand) Plan {
	plan := Plan{Duration: clipDuration}

	switch {
	case backgroundDuration < clipDuration:
		plan.Loop = true
	case backgroundDuration >= 2*clipDuration:
		window := backgroundDuration - clipDuration
		if rng != nil {
			plan.Offset = rng.Float64() * window
		} else {
			plan.Offset = rand.Float64() * window
		}
	default:
		plan.Offset = 0
	}

	return plan
}

// InputArgs translates a plan into the ffmpeg input arguments for the
// background file. Order matters: loop/seek flags must precede -i.
func InputArgs(localPath string, p Plan) []string {
	var args []string
	if p.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	if p.Offset > 0 {
		args = append(args, "-ss", formatSeconds(p.Offset))
	}
	args = append(args, "-t", formatSeconds(p.Duration), "-i", localPath)
	return args
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
