// Package store provides an optional Firestore-backed archive for
// messages received from the realtime feed.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/otiai10/p2pws/cache"
	"github.com/otiai10/p2pws/quake"
)

// DefaultCollection is the Firestore collection used when none is
// configured.
const DefaultCollection = "messages"

// putTimeout bounds a single fire-and-forget write.
const putTimeout = 10 * time.Second

// Config holds configuration for the archive.
type Config struct {
	ProjectID   string // GCP Project ID (required)
	Database    string // Database name (optional, defaults to "(default)")
	Credentials string // Path to service account JSON file (optional)
	Collection  string // Collection name (optional, defaults to DefaultCollection)
}

// Record is one archived message.
type Record struct {
	ID         string    `firestore:"-"`
	Code       int       `firestore:"code"`
	Event      string    `firestore:"event"`
	Time       string    `firestore:"time"`
	RawJSON    string    `firestore:"rawJson"`
	ReceivedAt time.Time `firestore:"receivedAt"`
}

// Archive persists decoded messages keyed by their upstream id.
// It satisfies cache.Store, so it can be handed to the client wherever
// the in-memory cache would go. Put is fire-and-forget: write failures
// are logged, never surfaced into the receive loop.
type Archive struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

var _ cache.Store = (*Archive)(nil)

// NewArchive connects to Firestore and returns an archive writing to the
// configured collection. If FIRESTORE_EMULATOR_HOST is set, it connects
// to the emulator and ignores any credentials file.
func NewArchive(ctx context.Context, cfg Config, logger zerolog.Logger) (*Archive, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	var opts []option.ClientOption
	if cfg.Credentials != "" && os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}

	database := cfg.Database
	if database == "" {
		database = "(default)"
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return &Archive{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

// Close releases the underlying Firestore connection.
func (a *Archive) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Put archives v under id.
func (a *Archive) Put(id string, v any) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	rec := newRecord(v)
	if _, err := a.client.Collection(a.collection).Doc(id).Set(ctx, rec); err != nil {
		a.logger.Warn().Err(err).Str("id", id).Msg("failed to archive message")
	}
}

func newRecord(v any) Record {
	rec := Record{ReceivedAt: time.Now()}
	switch m := v.(type) {
	case *quake.EarthquakeReport:
		rec.Code, rec.Event, rec.Time = m.Code, string(quake.EventEarthquake), m.Time
	case *quake.Tsunami:
		rec.Code, rec.Event, rec.Time = m.Code, string(quake.EventTsunami), m.Time
	case *quake.EEW:
		rec.Code, rec.Event, rec.Time = m.Code, string(quake.EventEEW), m.Time
	}
	if raw, err := json.Marshal(v); err == nil {
		rec.RawJSON = string(raw)
	}
	return rec
}

// Get retrieves an archived message by id.
func (a *Archive) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("message id is required")
	}
	snap, err := a.client.Collection(a.collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	var rec Record
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}

// List retrieves archived messages ordered by receivedAt descending.
func (a *Archive) List(ctx context.Context, limit int, startAfter *time.Time) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	query := a.client.Collection(a.collection).
		OrderBy("receivedAt", firestore.Desc).
		Limit(limit)
	if startAfter != nil {
		query = query.StartAfter(*startAfter)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	records := make([]Record, 0, limit)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate messages: %w", err)
		}
		var rec Record
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		rec.ID = snap.Ref.ID
		records = append(records, rec)
	}
	return records, nil
}
