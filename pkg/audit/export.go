package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrLogNotConfigured is returned when export is invoked without a backing log.
	ErrLogNotConfigured = errors.New("audit: log not configured (fail-closed)")
)

// ExportRequest defines what slice of the trail to export. An empty
// filter exports everything.
type ExportRequest struct {
	ActionID  string    `json:"action_id,omitempty"`
	Service   string    `json:"service,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// Exporter builds evidence packs for report collaborators.
type Exporter struct {
	log *Log
}

func NewExporter(l *Log) *Exporter {
	return &Exporter{log: l}
}

// GeneratePack creates a zip containing the selected entries plus a
// manifest, and returns the bytes with their checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	_ = ctx
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.log == nil {
		return nil, "", ErrLogNotConfigured
	}

	filter := QueryFilter{
		ActionID: req.ActionID,
		Service:  req.Service,
	}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	entries := e.log.Query(filter)

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]interface{}{
		"generated_at": time.Now().UTC(),
		"entry_count":  len(entries),
		"chain_head":   e.log.ChainHead(),
		"filter": map[string]interface{}{
			"action_id": req.ActionID,
			"service":   req.Service,
			"start":     req.StartTime,
			"end":       req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Audit evidence pack\nGenerated at %s\nEntries: %d\n",
		time.Now().UTC().Format(time.RFC3339), len(entries))

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	checksum := hex.EncodeToString(hash[:])

	return zipBytes, checksum, nil
}
