package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
	_ "modernc.org/sqlite" // embedded SQLite driver
)

// SQLiteStore implements Store using modernc.org/sqlite, a pure-Go embedded
// database. Vectors are stored as JSON float arrays in a TEXT column.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database file at path and
// initializes its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("%w: creating database directory: %v", models.ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", models.ErrStorage, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %v", models.ErrStorage, err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetScanState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM scan_state WHERE key = ?`, key).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading scan state: %v", models.ErrStorage, err)
	}
	return cursor, nil
}

func (s *SQLiteStore) SetScanState(ctx context.Context, key, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_state (key, cursor) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET cursor = excluded.cursor`, key, cursor)
	if err != nil {
		return fmt.Errorf("%w: writing scan state: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) SaveFingerprint(ctx context.Context, ownerDID string, fp models.TopicFingerprint) error {
	clustersJSON, err := json.Marshal(fp.Clusters)
	if err != nil {
		return fmt.Errorf("%w: encoding clusters: %v", models.ErrStorage, err)
	}
	centroidJSON, err := json.Marshal(fp.Centroid)
	if err != nil {
		return fmt.Errorf("%w: encoding centroid: %v", models.ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (owner_did, clusters, centroid, post_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_did) DO UPDATE SET
			clusters = excluded.clusters,
			centroid = excluded.centroid,
			post_count = excluded.post_count,
			updated_at = excluded.updated_at
	`, ownerDID, string(clustersJSON), string(centroidJSON), fp.PostCount, fp.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: saving fingerprint: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) GetFingerprint(ctx context.Context, ownerDID string) (*models.TopicFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clustersJSON, centroidJSON, updatedAt string
	var postCount int
	err := s.db.QueryRowContext(ctx,
		`SELECT clusters, centroid, post_count, updated_at FROM fingerprints WHERE owner_did = ?`, ownerDID).
		Scan(&clustersJSON, &centroidJSON, &postCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading fingerprint: %v", models.ErrStorage, err)
	}

	fp := &models.TopicFingerprint{PostCount: postCount}
	if err := json.Unmarshal([]byte(clustersJSON), &fp.Clusters); err != nil {
		return nil, fmt.Errorf("%w: decoding clusters: %v", models.ErrStorage, err)
	}
	if centroidJSON != "" {
		if err := json.Unmarshal([]byte(centroidJSON), &fp.Centroid); err != nil {
			return nil, fmt.Errorf("%w: decoding centroid: %v", models.ErrStorage, err)
		}
	}
	fp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return fp, nil
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, did string, vec []float32) error {
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("%w: encoding embedding: %v", models.ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (did, vector, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET vector = excluded.vector, updated_at = excluded.updated_at
	`, did, string(vecJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: saving embedding: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, did string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vecJSON string
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE did = ?`, did).Scan(&vecJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading embedding: %v", models.ErrStorage, err)
	}

	var vec []float32
	if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
		return nil, fmt.Errorf("%w: decoding embedding: %v", models.ErrStorage, err)
	}
	return vec, nil
}

func (s *SQLiteStore) UpsertAccountScore(ctx context.Context, score models.AccountScore) error {
	topToxicJSON, err := json.Marshal(score.TopToxicPosts)
	if err != nil {
		return fmt.Errorf("%w: encoding top toxic posts: %v", models.ErrStorage, err)
	}
	behavioralJSON, err := json.Marshal(score.BehavioralSignals)
	if err != nil {
		return fmt.Errorf("%w: encoding behavioral signals: %v", models.ErrStorage, err)
	}

	var tier *string
	if score.ThreatTier != nil {
		v := string(*score.ThreatTier)
		tier = &v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO account_scores (
			did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			posts_analyzed, top_toxic_posts, behavioral_signals, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			handle = excluded.handle,
			toxicity_score = excluded.toxicity_score,
			topic_overlap = excluded.topic_overlap,
			threat_score = excluded.threat_score,
			threat_tier = excluded.threat_tier,
			posts_analyzed = excluded.posts_analyzed,
			top_toxic_posts = excluded.top_toxic_posts,
			behavioral_signals = excluded.behavioral_signals,
			scored_at = excluded.scored_at
	`, score.DID, score.Handle, score.ToxicityScore, score.TopicOverlap, score.ThreatScore, tier,
		score.PostsAnalyzed, string(topToxicJSON), string(behavioralJSON),
		score.ScoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: upserting account score: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) GetAccountScore(ctx context.Context, did string) (*models.AccountScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			posts_analyzed, top_toxic_posts, behavioral_signals, scored_at
		FROM account_scores WHERE did = ?
	`, did)

	score, err := scanAccountScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading account score: %v", models.ErrStorage, err)
	}
	return score, nil
}

func (s *SQLiteStore) GetRankedThreats(ctx context.Context, minTier models.ThreatTier, limit int) ([]RankedThreat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			posts_analyzed, top_toxic_posts, behavioral_signals, scored_at
		FROM account_scores
		WHERE threat_score IS NOT NULL
	`
	args := []any{}
	if minTier != "" {
		query += ` AND threat_score >= ?`
		args = append(args, tierFloor(minTier))
	}
	query += ` ORDER BY threat_score DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ranked threats: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var results []RankedThreat
	for rows.Next() {
		score, err := scanAccountScore(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning ranked threat: %v", models.ErrStorage, err)
		}
		results = append(results, RankedThreat{AccountScore: *score})
	}
	return results, rows.Err()
}

func (s *SQLiteStore) GetAllAccountScores(ctx context.Context) ([]models.AccountScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			posts_analyzed, top_toxic_posts, behavioral_signals, scored_at
		FROM account_scores
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying all account scores: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var scores []models.AccountScore
	for rows.Next() {
		score, err := scanAccountScore(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning account score: %v", models.ErrStorage, err)
		}
		scores = append(scores, *score)
	}
	return scores, rows.Err()
}

func (s *SQLiteStore) GetAllEvents(ctx context.Context) ([]models.AmplificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying all events: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *SQLiteStore) IsScoreStale(ctx context.Context, did string, maxAge time.Duration) (bool, error) {
	score, err := s.GetAccountScore(ctx, did)
	if err != nil {
		return false, err
	}
	if score == nil {
		return true, nil
	}
	return time.Since(score.ScoredAt) > maxAge, nil
}

func (s *SQLiteStore) InsertAmplificationEvent(ctx context.Context, event models.AmplificationEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO amplification_events (
			event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(event.EventType), event.AmplifierDID, event.AmplifierHandle, event.OriginalPostURI,
		event.AmplifierPostURI, event.AmplifierText, event.DetectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("%w: inserting amplification event: %v", models.ErrStorage, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetRecentEvents(ctx context.Context, originalPostURI string, window time.Duration) ([]models.AmplificationEvent, error) {
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339Nano)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		WHERE original_post_uri = ? AND detected_at >= ?
		ORDER BY detected_at DESC
	`, originalPostURI, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: querying recent events: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *SQLiteStore) GetEventsForPileOn(ctx context.Context, ownerDID string, window time.Duration) ([]models.AmplificationEvent, error) {
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339Nano)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		WHERE original_post_uri LIKE ? AND detected_at >= ?
		ORDER BY detected_at DESC
	`, "%"+ownerDID+"%", cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: querying pile-on events: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *SQLiteStore) GetMedianEngagement(ctx context.Context, ownerDID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var median float64
	err := s.db.QueryRowContext(ctx,
		`SELECT median_engagement FROM engagement_baseline WHERE owner_did = ?`, ownerDID).Scan(&median)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading engagement baseline: %v", models.ErrStorage, err)
	}
	return median, nil
}

func (s *SQLiteStore) SetMedianEngagement(ctx context.Context, ownerDID string, median float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_baseline (owner_did, median_engagement, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner_did) DO UPDATE SET median_engagement = excluded.median_engagement, updated_at = excluded.updated_at
	`, ownerDID, median, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: writing engagement baseline: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) TableCount(ctx context.Context, table string) (int, error) {
	if !validTableName(table) {
		return 0, fmt.Errorf("%w: unknown table %q", models.ErrStorage, table)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting table %s: %v", models.ErrStorage, table, err)
	}
	return count, nil
}

var knownTables = map[string]bool{
	"fingerprints":         true,
	"account_scores":       true,
	"amplification_events": true,
	"embeddings":           true,
	"scan_state":           true,
	"engagement_baseline":  true,
}

func validTableName(table string) bool {
	return knownTables[table]
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which support Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountScore(row rowScanner) (*models.AccountScore, error) {
	var score models.AccountScore
	var topToxicJSON, behavioralJSON, scoredAt sql.NullString
	var tier sql.NullString

	err := row.Scan(&score.DID, &score.Handle, &score.ToxicityScore, &score.TopicOverlap,
		&score.ThreatScore, &tier, &score.PostsAnalyzed, &topToxicJSON, &behavioralJSON, &scoredAt)
	if err != nil {
		return nil, err
	}

	if tier.Valid {
		t := models.ThreatTier(tier.String)
		score.ThreatTier = &t
	}
	if topToxicJSON.Valid && topToxicJSON.String != "" {
		if err := json.Unmarshal([]byte(topToxicJSON.String), &score.TopToxicPosts); err != nil {
			return nil, fmt.Errorf("decoding top toxic posts: %w", err)
		}
	}
	if behavioralJSON.Valid && behavioralJSON.String != "" && behavioralJSON.String != "null" {
		if err := json.Unmarshal([]byte(behavioralJSON.String), &score.BehavioralSignals); err != nil {
			return nil, fmt.Errorf("decoding behavioral signals: %w", err)
		}
	}
	if scoredAt.Valid {
		score.ScoredAt, _ = time.Parse(time.RFC3339Nano, scoredAt.String)
	}

	return &score, nil
}

func scanEvents(rows *sql.Rows) ([]models.AmplificationEvent, error) {
	var events []models.AmplificationEvent
	for rows.Next() {
		var e models.AmplificationEvent
		var eventType, detectedAt string
		var amplifierPostURI, amplifierText sql.NullString

		if err := rows.Scan(&e.ID, &eventType, &e.AmplifierDID, &e.AmplifierHandle, &e.OriginalPostURI,
			&amplifierPostURI, &amplifierText, &detectedAt); err != nil {
			return nil, err
		}

		e.EventType = models.AmplificationEventType(eventType)
		e.AmplifierPostURI = amplifierPostURI.String
		e.AmplifierText = amplifierText.String
		e.DetectedAt, _ = time.Parse(time.RFC3339Nano, detectedAt)

		events = append(events, e)
	}
	return events, rows.Err()
}

// tierFloor maps a threat tier to its minimum score, for filtering ranked
// threats by tier.
func tierFloor(tier models.ThreatTier) float64 {
	switch tier {
	case models.TierWatch:
		return constants.TierWatchThreshold
	case models.TierElevated:
		return constants.TierElevatedThreshold
	case models.TierHigh:
		return constants.TierHighThreshold
	default:
		return 0.0
	}
}
