package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Records
// are stored as JSON strings so document schemas never drift from the Go
// types.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty when it can be inferred from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(siteID, name string) (*firestore.CollectionRef, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	return f.client.Collection("sites").Doc(siteID).Collection(name), nil
}

// SaveProfile stores the usage profile in the "config/usage_profile" document.
func (f *FirestoreProvider) SaveProfile(ctx context.Context, siteID string, profile types.UsageProfile) error {
	jsonBytes, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal usage profile: %w", err)
	}

	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("usage_profile").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": profile.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to save usage profile: %w", err)
	}
	return nil
}

// LoadProfile retrieves the usage profile from the "config/usage_profile"
// document.
func (f *FirestoreProvider) LoadProfile(ctx context.Context, siteID string) (*types.UsageProfile, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return nil, err
	}
	doc, err := coll.Doc("usage_profile").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to fetch usage profile doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "usage profile doc missing json", slog.String("siteID", siteID))
		return nil, fmt.Errorf("usage profile document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "usage profile doc json not string", slog.String("siteID", siteID))
		return nil, fmt.Errorf("usage profile 'json' field is not a string")
	}

	var profile types.UsageProfile
	if err := json.Unmarshal([]byte(jsonStr), &profile); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal usage profile", slog.String("siteID", siteID), slog.Any("err", err))
		return nil, fmt.Errorf("failed to unmarshal usage profile: %w", err)
	}
	if profile.Version != types.CurrentUsageProfileVersion {
		return nil, fmt.Errorf("unsupported usage profile version: %d", profile.Version)
	}
	return &profile, nil
}

// AppendDecision adds a decision record to the "decisions" collection as a
// JSON blob. The document ID is the RFC3339 timestamp for efficient range
// queries.
func (f *FirestoreProvider) AppendDecision(ctx context.Context, siteID string, rec DecisionRecord) error {
	jsonBytes, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	coll, err := f.getCollection(siteID, "decisions")
	if err != nil {
		return err
	}
	// Use RFC3339 as document ID for lexicographic ordering and efficient range queries
	docID := rec.Decision.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": rec.Decision.Timestamp,
		"line":      rec.LogLine(),
	})
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// GetDecisionHistory retrieves decisions within the specified time range.
// Uses document ID range queries for efficient filtering without reading all
// documents.
func (f *FirestoreProvider) GetDecisionHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Decision, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(siteID, "decisions")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var decisions []types.Decision
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating decisions: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "decision doc missing json", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, fmt.Errorf("decision document %s missing 'json' field: %w", doc.Ref.ID, err)
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "decision doc json not string", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID))
			return nil, fmt.Errorf("decision document %s 'json' field is not string", doc.Ref.ID)
		}

		var d types.Decision
		if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal decision", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal decision (id=%s): %w", doc.Ref.ID, err)
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
