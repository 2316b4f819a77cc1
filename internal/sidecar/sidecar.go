package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge/internal/models"
	"github.com/clipforge/clipforge/internal/runner"
	"github.com/google/uuid"
)

// CropAnalysisError means the sidecar ran but produced a missing, truncated
// or schema-invalid result file. The attempt fails; the worker's retry policy
// decides whether the whole pipeline runs again.
type CropAnalysisError struct {
	JobID  uuid.UUID
	Reason string
}

func (e *CropAnalysisError) Error() string {
	return fmt.Sprintf("crop analysis for job %s failed: %s", e.JobID, e.Reason)
}

// Client invokes the external face/voice-activity analysis process. The
// sidecar's algorithm is a black box; the only contract is the command line
// (sourceLocator, jobID, scratchDir), exit code 0, and a coords file named
// {jobID}_coords.json written into the scratch directory.
type Client struct {
	python string
	script string
}

func New(pythonBin, scriptPath string) *Client {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &Client{python: pythonBin, script: scriptPath}
}

// Analyze runs the sidecar against the source and parses its result file.
func (c *Client) Analyze(ctx context.Context, sourceURL string, jobID uuid.UUID, scratchDir string) (*models.CropResult, error) {
	log.Printf("[Sidecar] Analyzing job %s...", jobID)

	_, err := runner.Run(ctx, c.python, []string{c.script, sourceURL, jobID.String(), scratchDir}, runner.Options{
		Stdout: func(line string) { log.Printf("[Sidecar] %s", line) },
		Stderr: func(line string) { log.Printf("[Sidecar] stderr: %s", line) },
	})
	if err != nil {
		return nil, fmt.Errorf("sidecar process failed: %w", err)
	}

	result, err := ParseCoordsFile(CoordsPath(scratchDir, jobID), jobID)
	if err != nil {
		return nil, err
	}

	log.Printf("[Sidecar] Job %s analyzed: mode=%s", jobID, result.Mode)
	return result, nil
}

// CoordsPath returns the by-convention result file path for a job.
func CoordsPath(scratchDir string, jobID uuid.UUID) string {
	return filepath.Join(scratchDir, fmt.Sprintf("%s_coords.json", jobID))
}

// ParseCoordsFile reads and validates a sidecar result file.
func ParseCoordsFile(path string, jobID uuid.UUID) (*models.CropResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &CropAnalysisError{JobID: jobID, Reason: fmt.Sprintf("result file %s missing", filepath.Base(path))}
		}
		return nil, &CropAnalysisError{JobID: jobID, Reason: fmt.Sprintf("result file unreadable: %v", err)}
	}

	var result models.CropResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &CropAnalysisError{JobID: jobID, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if err := result.Validate(); err != nil {
		return nil, &CropAnalysisError{JobID: jobID, Reason: err.Error()}
	}

	return &result, nil
}
