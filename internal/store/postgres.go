package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nvandessel/charcoal/internal/models"
)

// PostgresStore implements Store over a networked Postgres database,
// storing dense vectors in a native pgvector column instead of the embedded
// backend's JSON-array TEXT column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connStr and initializes the schema.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to postgres: %v", models.ErrStorage, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging postgres: %v", models.ErrStorage, err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS scan_state (
    key TEXT PRIMARY KEY,
    cursor TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
    owner_did TEXT PRIMARY KEY,
    clusters JSONB NOT NULL,
    centroid vector(384),
    post_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
    did TEXT PRIMARY KEY,
    vector vector(384) NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS account_scores (
    did TEXT PRIMARY KEY,
    handle TEXT NOT NULL,
    toxicity_score DOUBLE PRECISION,
    topic_overlap DOUBLE PRECISION,
    threat_score DOUBLE PRECISION,
    threat_tier TEXT,
    posts_analyzed INTEGER NOT NULL DEFAULT 0,
    top_toxic_posts JSONB,
    behavioral_signals JSONB,
    scored_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_account_scores_threat ON account_scores(threat_score);

CREATE TABLE IF NOT EXISTS amplification_events (
    id BIGSERIAL PRIMARY KEY,
    event_type TEXT NOT NULL,
    amplifier_did TEXT NOT NULL,
    amplifier_handle TEXT NOT NULL,
    original_post_uri TEXT NOT NULL,
    amplifier_post_uri TEXT,
    amplifier_text TEXT,
    detected_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_original_post ON amplification_events(original_post_uri);
CREATE INDEX IF NOT EXISTS idx_events_detected_at ON amplification_events(detected_at);

CREATE TABLE IF NOT EXISTS engagement_baseline (
    owner_did TEXT PRIMARY KEY,
    median_engagement DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("%w: initializing postgres schema: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetScanState(ctx context.Context, key string) (string, error) {
	var cursor string
	err := s.pool.QueryRow(ctx, `SELECT cursor FROM scan_state WHERE key = $1`, key).Scan(&cursor)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading scan state: %v", models.ErrStorage, err)
	}
	return cursor, nil
}

func (s *PostgresStore) SetScanState(ctx context.Context, key, cursor string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_state (key, cursor) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET cursor = EXCLUDED.cursor
	`, key, cursor)
	if err != nil {
		return fmt.Errorf("%w: writing scan state: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) SaveFingerprint(ctx context.Context, ownerDID string, fp models.TopicFingerprint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fingerprints (owner_did, clusters, centroid, post_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_did) DO UPDATE SET
			clusters = EXCLUDED.clusters,
			centroid = EXCLUDED.centroid,
			post_count = EXCLUDED.post_count,
			updated_at = EXCLUDED.updated_at
	`, ownerDID, fp.Clusters, vectorLiteral(fp.Centroid), fp.PostCount, fp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: saving fingerprint: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) GetFingerprint(ctx context.Context, ownerDID string) (*models.TopicFingerprint, error) {
	var clustersJSON []byte
	var centroid *string
	fp := &models.TopicFingerprint{}

	err := s.pool.QueryRow(ctx,
		`SELECT clusters, centroid, post_count, updated_at FROM fingerprints WHERE owner_did = $1`, ownerDID).
		Scan(&clustersJSON, &centroid, &fp.PostCount, &fp.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading fingerprint: %v", models.ErrStorage, err)
	}

	if err := json.Unmarshal(clustersJSON, &fp.Clusters); err != nil {
		return nil, fmt.Errorf("%w: decoding clusters: %v", models.ErrStorage, err)
	}
	if centroid != nil {
		fp.Centroid = parseVectorLiteral(*centroid)
	}
	return fp, nil
}

func (s *PostgresStore) SaveEmbedding(ctx context.Context, did string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embeddings (did, vector, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (did) DO UPDATE SET vector = EXCLUDED.vector, updated_at = EXCLUDED.updated_at
	`, did, vectorLiteral(vec), time.Now())
	if err != nil {
		return fmt.Errorf("%w: saving embedding: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) GetEmbedding(ctx context.Context, did string) ([]float32, error) {
	var vec string
	err := s.pool.QueryRow(ctx, `SELECT vector FROM embeddings WHERE did = $1`, did).Scan(&vec)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading embedding: %v", models.ErrStorage, err)
	}
	return parseVectorLiteral(vec), nil
}

func (s *PostgresStore) UpsertAccountScore(ctx context.Context, score models.AccountScore) error {
	var tier *string
	if score.ThreatTier != nil {
		v := string(*score.ThreatTier)
		tier = &v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_scores (
			did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			posts_analyzed, top_toxic_posts, behavioral_signals, scored_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (did) DO UPDATE SET
			handle = EXCLUDED.handle,
			toxicity_score = EXCLUDED.toxicity_score,
			topic_overlap = EXCLUDED.topic_overlap,
			threat_score = EXCLUDED.threat_score,
			threat_tier = EXCLUDED.threat_tier,
			posts_analyzed = EXCLUDED.posts_analyzed,
			top_toxic_posts = EXCLUDED.top_toxic_posts,
			behavioral_signals = EXCLUDED.behavioral_signals,
			scored_at = EXCLUDED.scored_at
	`, score.DID, score.Handle, score.ToxicityScore, score.TopicOverlap, score.ThreatScore, tier,
		score.PostsAnalyzed, score.TopToxicPosts, score.BehavioralSignals, score.ScoredAt)
	if err != nil {
		return fmt.Errorf("%w: upserting account score: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) GetAccountScore(ctx context.Context, did string) (*models.AccountScore, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			posts_analyzed, top_toxic_posts, behavioral_signals, scored_at
		FROM account_scores WHERE did = $1
	`, did)

	score, err := scanAccountScorePG(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading account score: %v", models.ErrStorage, err)
	}
	return score, nil
}

func (s *PostgresStore) GetRankedThreats(ctx context.Context, minTier models.ThreatTier, limit int) ([]RankedThreat, error) {
	query := `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			posts_analyzed, top_toxic_posts, behavioral_signals, scored_at
		FROM account_scores
		WHERE threat_score IS NOT NULL
	`
	args := []any{}
	argN := 1
	if minTier != "" {
		query += fmt.Sprintf(" AND threat_score >= $%d", argN)
		args = append(args, tierFloor(minTier))
		argN++
	}
	query += " ORDER BY threat_score DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ranked threats: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var results []RankedThreat
	for rows.Next() {
		score, err := scanAccountScorePG(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning ranked threat: %v", models.ErrStorage, err)
		}
		results = append(results, RankedThreat{AccountScore: *score})
	}
	return results, rows.Err()
}

func (s *PostgresStore) GetAllAccountScores(ctx context.Context) ([]models.AccountScore, error) {
	rows, err := s.pool.Query(ctx, `
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
		score, err := scanAccountScorePG(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning account score: %v", models.ErrStorage, err)
		}
		scores = append(scores, *score)
	}
	return scores, rows.Err()
}

func (s *PostgresStore) GetAllEvents(ctx context.Context) ([]models.AmplificationEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying all events: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	return scanEventsPG(rows)
}

func (s *PostgresStore) IsScoreStale(ctx context.Context, did string, maxAge time.Duration) (bool, error) {
	score, err := s.GetAccountScore(ctx, did)
	if err != nil {
		return false, err
	}
	if score == nil {
		return true, nil
	}
	return time.Since(score.ScoredAt) > maxAge, nil
}

func (s *PostgresStore) InsertAmplificationEvent(ctx context.Context, event models.AmplificationEvent) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO amplification_events (
			event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, string(event.EventType), event.AmplifierDID, event.AmplifierHandle, event.OriginalPostURI,
		event.AmplifierPostURI, event.AmplifierText, event.DetectedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting amplification event: %v", models.ErrStorage, err)
	}
	return id, nil
}

func (s *PostgresStore) GetRecentEvents(ctx context.Context, originalPostURI string, window time.Duration) ([]models.AmplificationEvent, error) {
	cutoff := time.Now().Add(-window)

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		WHERE original_post_uri = $1 AND detected_at >= $2
		ORDER BY detected_at DESC
	`, originalPostURI, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: querying recent events: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	return scanEventsPG(rows)
}

func (s *PostgresStore) GetEventsForPileOn(ctx context.Context, ownerDID string, window time.Duration) ([]models.AmplificationEvent, error) {
	cutoff := time.Now().Add(-window)

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
			amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		WHERE original_post_uri LIKE $1 AND detected_at >= $2
		ORDER BY detected_at DESC
	`, "%"+ownerDID+"%", cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: querying pile-on events: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	return scanEventsPG(rows)
}

func (s *PostgresStore) GetMedianEngagement(ctx context.Context, ownerDID string) (float64, error) {
	var median float64
	err := s.pool.QueryRow(ctx,
		`SELECT median_engagement FROM engagement_baseline WHERE owner_did = $1`, ownerDID).Scan(&median)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading engagement baseline: %v", models.ErrStorage, err)
	}
	return median, nil
}

func (s *PostgresStore) SetMedianEngagement(ctx context.Context, ownerDID string, median float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engagement_baseline (owner_did, median_engagement, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (owner_did) DO UPDATE SET median_engagement = EXCLUDED.median_engagement, updated_at = EXCLUDED.updated_at
	`, ownerDID, median, time.Now())
	if err != nil {
		return fmt.Errorf("%w: writing engagement baseline: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) TableCount(ctx context.Context, table string) (int, error) {
	if !validTableName(table) {
		return 0, fmt.Errorf("%w: unknown table %q", models.ErrStorage, table)
	}

	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting table %s: %v", models.ErrStorage, table, err)
	}
	return count, nil
}

// pgRowScanner abstracts over pgx.Row and pgx.Rows.
type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanAccountScorePG(row pgRowScanner) (*models.AccountScore, error) {
	var score models.AccountScore
	var topToxicJSON, behavioralJSON []byte
	var tier *string

	err := row.Scan(&score.DID, &score.Handle, &score.ToxicityScore, &score.TopicOverlap,
		&score.ThreatScore, &tier, &score.PostsAnalyzed, &topToxicJSON, &behavioralJSON, &score.ScoredAt)
	if err != nil {
		return nil, err
	}

	if tier != nil {
		t := models.ThreatTier(*tier)
		score.ThreatTier = &t
	}
	if len(topToxicJSON) > 0 {
		if err := json.Unmarshal(topToxicJSON, &score.TopToxicPosts); err != nil {
			return nil, fmt.Errorf("decoding top toxic posts: %w", err)
		}
	}
	if len(behavioralJSON) > 0 {
		if err := json.Unmarshal(behavioralJSON, &score.BehavioralSignals); err != nil {
			return nil, fmt.Errorf("decoding behavioral signals: %w", err)
		}
	}

	return &score, nil
}

func scanEventsPG(rows pgx.Rows) ([]models.AmplificationEvent, error) {
	var events []models.AmplificationEvent
	for rows.Next() {
		var e models.AmplificationEvent
		var eventType string
		var amplifierPostURI, amplifierText *string

		if err := rows.Scan(&e.ID, &eventType, &e.AmplifierDID, &e.AmplifierHandle, &e.OriginalPostURI,
			&amplifierPostURI, &amplifierText, &e.DetectedAt); err != nil {
			return nil, err
		}

		e.EventType = models.AmplificationEventType(eventType)
		if amplifierPostURI != nil {
			e.AmplifierPostURI = *amplifierPostURI
		}
		if amplifierText != nil {
			e.AmplifierText = *amplifierText
		}

		events = append(events, e)
	}
	return events, rows.Err()
}

// vectorLiteral formats a float32 slice as a pgvector input literal, e.g.
// "[0.1,0.2,0.3]". Returns nil for an empty vector so the column stores NULL.
func vectorLiteral(vec []float32) *string {
	if len(vec) == 0 {
		return nil
	}
	out := make([]byte, 0, len(vec)*8+2)
	out = append(out, '[')
	for i, v := range vec {
		if i > 0 {
			out = append(out, ',')
		}
		out = fmt.Appendf(out, "%g", v)
	}
	out = append(out, ']')
	lit := string(out)
	return &lit
}

// parseVectorLiteral parses a pgvector output literal back into a float32 slice.
func parseVectorLiteral(s string) []float32 {
	if len(s) < 2 {
		return nil
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil
	}
	var vec []float32
	start := 0
	for i := 0; i <= len(inner); i++ {
		if i == len(inner) || inner[i] == ',' {
			var f float64
			fmt.Sscanf(inner[start:i], "%g", &f)
			vec = append(vec, float32(f))
			start = i + 1
		}
	}
	return vec
}

