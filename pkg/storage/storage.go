package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// ErrProfileNotFound is returned when no usage profile has been persisted yet.
var ErrProfileNotFound = errors.New("usage profile not found")

// DecisionRecord is a Decision plus the tick context that goes into the
// append-only decision log.
type DecisionRecord struct {
	Decision         types.Decision
	ImportCents      float64
	ExportCents      float64
	ForecastAvgCents float64
	ForecastMaxCents float64
	SolarKW          float64
}

// LogLine renders the record as one pipe-delimited line. The reason field is
// last so embedded separators cannot shift earlier columns.
func (r DecisionRecord) LogLine() string {
	return fmt.Sprintf("%s|%s|%.2f|%.2f|%.2f|%.2f|%.2f|%.2f|%s",
		r.Decision.Timestamp.UTC().Format(time.RFC3339),
		r.Decision.Action,
		r.ImportCents,
		r.ExportCents,
		r.ForecastAvgCents,
		r.ForecastMaxCents,
		r.SolarKW,
		r.Decision.Confidence,
		strings.ReplaceAll(r.Decision.Reason, "\n", " "))
}

// Database defines the interface for persisting the usage profile and the
// decision history.
type Database interface {
	// Usage profile
	SaveProfile(ctx context.Context, siteID string, profile types.UsageProfile) error
	LoadProfile(ctx context.Context, siteID string) (*types.UsageProfile, error)

	// Decision log
	AppendDecision(ctx context.Context, siteID string, rec DecisionRecord) error
	GetDecisionHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Decision, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "file", "Storage provider to use (available: file, firestore)")

	var p struct{ Database }

	f := configuredFile()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "file":
			if err := f.Validate(); err != nil {
				panic(fmt.Sprintf("file storage validation failed: %v", err))
			}
			if err := f.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("file storage init failed: %v", err))
			}
			p.Database = f
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Database = fs
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
