package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ClipStatus is what the persisted-status sink records for the clip entity
// owned by the product layer. The worker only ever writes these three values.
type ClipStatus string

const (
	ClipStatusGenerating ClipStatus = "generating"
	ClipStatusReady      ClipStatus = "ready"
	ClipStatusFailed     ClipStatus = "failed"
)

type AspectRatio string

const (
	AspectPortrait  AspectRatio = "9:16"
	AspectSquare    AspectRatio = "1:1"
	AspectLandscape AspectRatio = "16:9"
)

// OutputSize returns the encode target dimensions for an aspect ratio.
func (a AspectRatio) OutputSize() (w, h int, err error) {
	switch a {
	case AspectPortrait:
		return 1080, 1920, nil
	case AspectSquare:
		return 1080, 1080, nil
	case AspectLandscape:
		return 1920, 1080, nil
	default:
		return 0, 0, fmt.Errorf("unknown aspect ratio: %q", a)
	}
}

type QualityTier string

const (
	Quality1080p QualityTier = "1080p"
	Quality720p  QualityTier = "720p"
)

// CropMode tags the sidecar's analysis result.
type CropMode string

const (
	CropModeDynamic CropMode = "crop"
	CropModeSplit   CropMode = "split"
	CropModeMixed   CropMode = "mixed"
	CropModeSkip    CropMode = "skip"
)

type SegmentType string

const (
	SegmentFace      SegmentType = "face"
	SegmentLetterbox SegmentType = "letterbox"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// CaptionLine is one caption cue in clip-local time (seconds from clip start).
type CaptionLine struct {
	Text        string  `json:"text"`
	StartOffset float64 `json:"start_offset"`
	EndOffset   float64 `json:"end_offset"`
}

// RenderRequest is the immutable payload of a render job. Source is either a
// remote URL or a storage key; exactly one must be set.
type RenderRequest struct {
	SourceURL         string        `json:"source_url,omitempty"`
	SourceKey         string        `json:"source_key,omitempty"`
	StartTime         float64       `json:"start_time"`
	EndTime           float64       `json:"end_time"`
	AspectRatio       AspectRatio   `json:"aspect_ratio"`
	Quality           QualityTier   `json:"quality,omitempty"`
	Captions          []CaptionLine `json:"captions,omitempty"`
	Style             JSONB         `json:"style,omitempty"`
	BackgroundAssetID *uuid.UUID    `json:"background_asset_id,omitempty"`
	CropModeHint      *CropMode     `json:"crop_mode_hint,omitempty"`
}

// Duration returns the clip duration in seconds.
func (r *RenderRequest) Duration() float64 {
	return r.EndTime - r.StartTime
}

// Validate checks the invariants the core enforces. Duration bounds are the
// calling layer's job, not ours.
func (r *RenderRequest) Validate() error {
	if r.SourceURL == "" && r.SourceKey == "" {
		return fmt.Errorf("source_url or source_key is required")
	}
	if r.SourceURL != "" && r.SourceKey != "" {
		return fmt.Errorf("source_url and source_key are mutually exclusive")
	}
	if r.EndTime <= r.StartTime {
		return fmt.Errorf("end_time (%v) must be greater than start_time (%v)", r.EndTime, r.StartTime)
	}
	if r.StartTime < 0 {
		return fmt.Errorf("start_time must not be negative")
	}
	if _, _, err := r.AspectRatio.OutputSize(); err != nil {
		return err
	}
	for i, c := range r.Captions {
		if c.EndOffset <= c.StartOffset {
			return fmt.Errorf("caption %d: end_offset must be greater than start_offset", i)
		}
	}
	return nil
}

// CropSample is one keyframe of a dynamic crop: the rectangle is valid from
// T until the next sample's T.
type CropSample struct {
	T float64 `json:"t"`
	X int     `json:"x"`
	Y int     `json:"y"`
	W int     `json:"w"`
	H int     `json:"h"`
}

// Rect is a fixed crop region in source pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// MixedSegment is one timeline segment of a mixed-mode result. Face segments
// carry their own crop samples scoped to [Start, End); letterbox segments
// carry none and are scaled+padded instead.
type MixedSegment struct {
	Type    SegmentType  `json:"type"`
	Start   float64      `json:"start"`
	End     float64      `json:"end"`
	Samples []CropSample `json:"coords,omitempty"`
}

// SplitRatio bounds: the top region must cover between 30% and 70% of the
// output height. Values outside the range are clamped, not rejected.
const (
	SplitRatioMin     = 30
	SplitRatioMax     = 70
	SplitRatioDefault = 50
)

// ClampSplitRatio forces a split ratio into [SplitRatioMin, SplitRatioMax].
// A zero value (absent in the sidecar output) becomes the default.
func ClampSplitRatio(ratio int) int {
	if ratio == 0 {
		return SplitRatioDefault
	}
	if ratio < SplitRatioMin {
		return SplitRatioMin
	}
	if ratio > SplitRatioMax {
		return SplitRatioMax
	}
	return ratio
}

// CropResult is the tagged union produced by the crop analysis sidecar.
// Exactly one variant's fields are populated, selected by Mode.
type CropResult struct {
	Mode CropMode `json:"mode"`

	// Dynamic-crop variant
	Samples []CropSample `json:"coords,omitempty"`

	// Split-screen variant
	Screen     Rect `json:"screen,omitempty"`
	PiP        Rect `json:"pip,omitempty"`
	SplitRatio int  `json:"split_ratio,omitempty"`

	// Mixed variant
	Segments []MixedSegment `json:"segments,omitempty"`
	CropW    int            `json:"crop_w,omitempty"`
	CropH    int            `json:"crop_h,omitempty"`
}

// UnmarshalJSON accepts both the tagged-object form the sidecar writes today
// and the legacy bare-array form (a plain list of crop samples).
func (c *CropResult) UnmarshalJSON(data []byte) error {
	if firstNonSpace(data) == '[' {
		var samples []CropSample
		if err := json.Unmarshal(data, &samples); err != nil {
			return err
		}
		c.Mode = CropModeDynamic
		c.Samples = samples
		return nil
	}

	type alias CropResult
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = CropResult(a)
	return nil
}

// Validate checks the variant's own invariants.
func (c *CropResult) Validate() error {
	switch c.Mode {
	case CropModeDynamic:
		if len(c.Samples) == 0 {
			return fmt.Errorf("crop mode requires at least one sample")
		}
	case CropModeSplit:
		if c.Screen.W <= 0 || c.Screen.H <= 0 {
			return fmt.Errorf("split mode requires a non-empty screen region")
		}
		if c.PiP.W <= 0 || c.PiP.H <= 0 {
			return fmt.Errorf("split mode requires a non-empty pip region")
		}
	case CropModeMixed:
		if len(c.Segments) == 0 {
			return fmt.Errorf("mixed mode requires at least one segment")
		}
		for i, seg := range c.Segments {
			if seg.End <= seg.Start {
				return fmt.Errorf("segment %d: end must be greater than start", i)
			}
			if seg.Type == SegmentFace && len(seg.Samples) == 0 {
				return fmt.Errorf("segment %d: face segment has no crop samples", i)
			}
			if i > 0 && seg.Start < c.Segments[i-1].End {
				return fmt.Errorf("segment %d overlaps segment %d", i, i-1)
			}
		}
	case CropModeSkip:
		// nothing to check
	default:
		return fmt.Errorf("unknown crop mode: %q", c.Mode)
	}
	return nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// BackgroundAsset is a catalogued filler video for split-screen composition.
type BackgroundAsset struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	StorageKey  string    `json:"storage_key"`
	DurationSec float64   `json:"duration_sec"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"created_at"`
}

// RenderJob wraps a RenderRequest with queue lifecycle state. Only the worker
// that claimed the job mutates it.
type RenderJob struct {
	ID           uuid.UUID     `json:"id"`
	ClipID       uuid.UUID     `json:"clip_id"`
	VideoID      uuid.UUID     `json:"video_id"`
	Request      RenderRequest `json:"request"`
	Status       JobStatus     `json:"status"`
	Attempts     int           `json:"attempts"`
	Progress     int           `json:"progress"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	OutputKey    *string       `json:"output_key,omitempty"`
	OutputURL    *string       `json:"output_url,omitempty"`
	ThumbnailKey *string       `json:"thumbnail_key,omitempty"`
	ThumbnailURL *string       `json:"thumbnail_url,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// DTOs for API responses

type CreateRenderJobRequest struct {
	ClipID  uuid.UUID `json:"clip_id"`
	VideoID uuid.UUID `json:"video_id"`
	RenderRequest
}

type CreateRenderJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

type JobStatusResponse struct {
	JobID        uuid.UUID `json:"job_id"`
	State        JobStatus `json:"state"`
	Progress     int       `json:"progress"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	OutputURL    *string   `json:"output_url,omitempty"`
	ThumbnailURL *string   `json:"thumbnail_url,omitempty"`
}

type ListBackgroundsResponse struct {
	Backgrounds []BackgroundAsset `json:"backgrounds"`
}
