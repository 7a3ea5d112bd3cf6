package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	decisionLogName = "decisions.log"
	profileName     = "usage_profile.json"
)

// FileProvider implements Database on the local filesystem. Decisions append
// to a pipe-delimited log; the usage profile is one JSON document.
type FileProvider struct {
	dir string

	mtx         sync.Mutex
	decisionLog *os.File
}

// configuredFile sets up the file provider. It registers flags for
// configuration.
func configuredFile() *FileProvider {
	dir := lflag.String("storage-file-dir", "data", "Directory for the decision log and usage profile")

	f := &FileProvider{}

	lflag.Do(func() {
		f.dir = *dir
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FileProvider) Validate() error {
	if f.dir == "" {
		return fmt.Errorf("storage-file-dir cannot be empty")
	}
	return nil
}

// Init creates the storage directory and opens the decision log for append.
func (f *FileProvider) Init(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir %s: %w", f.dir, err)
	}
	fh, err := os.OpenFile(filepath.Join(f.dir, decisionLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open decision log: %w", err)
	}
	f.decisionLog = fh
	return nil
}

// Close flushes and closes the decision log.
func (f *FileProvider) Close() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.decisionLog != nil {
		return f.decisionLog.Close()
	}
	return nil
}

// SaveProfile writes the usage profile atomically via a rename.
func (f *FileProvider) SaveProfile(ctx context.Context, siteID string, profile types.UsageProfile) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage profile: %w", err)
	}

	path := filepath.Join(f.dir, profileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write usage profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace usage profile: %w", err)
	}
	return nil
}

// LoadProfile reads the persisted usage profile.
func (f *FileProvider) LoadProfile(ctx context.Context, siteID string) (*types.UsageProfile, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, profileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to read usage profile: %w", err)
	}

	var profile types.UsageProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage profile: %w", err)
	}
	if profile.Version != types.CurrentUsageProfileVersion {
		return nil, fmt.Errorf("unsupported usage profile version: %d", profile.Version)
	}
	return &profile, nil
}

// AppendDecision writes one pipe-delimited line to the decision log.
func (f *FileProvider) AppendDecision(ctx context.Context, siteID string, rec DecisionRecord) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.decisionLog == nil {
		return fmt.Errorf("decision log not initialized")
	}
	if _, err := fmt.Fprintln(f.decisionLog, rec.LogLine()); err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// GetDecisionHistory scans the decision log for decisions within [start, end).
// Only the columns the log carries survive the round trip; the rest of the
// Decision stays zero.
func (f *FileProvider) GetDecisionHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Decision, error) {
	fh, err := os.Open(filepath.Join(f.dir, decisionLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}
	defer fh.Close()

	var decisions []types.Decision
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		d, ok := parseLogLine(ctx, line)
		if !ok {
			continue
		}
		if d.Timestamp.Before(start) || !d.Timestamp.Before(end) {
			continue
		}
		decisions = append(decisions, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan decision log: %w", err)
	}
	return decisions, nil
}

func parseLogLine(ctx context.Context, line string) (types.Decision, bool) {
	parts := strings.SplitN(line, "|", 9)
	if len(parts) < 9 {
		log.Ctx(ctx).WarnContext(ctx, "skipping malformed decision log line",
			slog.Int("fields", len(parts)))
		return types.Decision{}, false
	}
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "skipping decision log line with bad timestamp",
			slog.String("value", parts[0]), slog.Any("error", err))
		return types.Decision{}, false
	}
	confidence, _ := strconv.ParseFloat(parts[7], 64)
	return types.Decision{
		Timestamp:  ts,
		Action:     types.BatteryAction(parts[1]),
		Confidence: confidence,
		Reason:     parts[8],
	}, true
}
