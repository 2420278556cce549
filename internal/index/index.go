// Package index manages one SQLite file per robot: segments,
// collections, and collection clips, opened in WAL mode so the
// consumer (writer) and API (reader) can operate concurrently.
package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/framebucket/framebucket/internal/ferrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	robot_id    TEXT    NOT NULL,
	type        TEXT    NOT NULL CHECK(type IN ('active','idle')),
	start_ms    INTEGER NOT NULL,
	end_ms      INTEGER NOT NULL,
	s3_key      TEXT    NOT NULL,
	size_bytes  INTEGER,
	frame_count INTEGER,
	labels      TEXT    NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_segments_time ON segments(robot_id, start_ms, end_ms);

CREATE TABLE IF NOT EXISTS collections (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	robot_id    TEXT    NOT NULL,
	name        TEXT    NOT NULL,
	description TEXT    NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_name ON collections(robot_id, name);

CREATE TABLE IF NOT EXISTS collection_clips (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id   INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	robot_id        TEXT    NOT NULL,
	modality        TEXT    NOT NULL DEFAULT 'camera',
	clip_start_ms   INTEGER NOT NULL,
	clip_end_ms     INTEGER NOT NULL,
	segment_ids     TEXT    NOT NULL DEFAULT '[]',
	manifest_s3_key TEXT,
	created_at      INTEGER NOT NULL,
	UNIQUE(collection_id, clip_start_ms, clip_end_ms)
);
CREATE INDEX IF NOT EXISTS idx_clips_collection ON collection_clips(collection_id);
`

// Segment is one row of the segments table.
type Segment struct {
	ID         int64
	RobotID    string
	Type       string // "active" or "idle"
	StartMs    int64
	EndMs      int64
	S3Key      string
	SizeBytes  int64
	FrameCount int64
	Labels     []string
}

// Collection is one row of the collections table.
type Collection struct {
	ID          int64
	RobotID     string
	Name        string
	Description string
	CreatedAt   int64
	UpdatedAt   int64
}

// Clip is one row of the collection_clips table.
type Clip struct {
	ID            int64
	CollectionID  int64
	RobotID       string
	Modality      string
	ClipStartMs   int64
	ClipEndMs     int64
	SegmentIDs    []int64
	ManifestS3Key string
	CreatedAt     int64
}

// DB wraps one robot's SQLite connection. All writes through a DB are
// serialized behind mu to prevent SQLITE_BUSY from competing writer
// goroutines; reads take no lock. The API process keeps one cached DB
// per robot, separate from the consumer's, rather than one per request.
type DB struct {
	conn    *sql.DB
	robotID string
	mu      sync.Mutex
}

// Open opens (creating if absent) the SQLite file at
// {dbDir}/{robotID}.db in WAL mode with synchronous=NORMAL and
// foreign_keys=ON, and ensures the schema exists.
func Open(dbDir, robotID string) (*DB, error) {
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("mkdir %s: %w", dbDir, err))
	}

	path := filepath.Join(dbDir, robotID+".db")
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("open %s: %w", path, err))
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("create schema: %w", err))
	}

	return &DB{conn: conn, robotID: robotID}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// InsertActive records a completed active (encoded) segment.
func (d *DB) InsertActive(startMs, endMs int64, s3Key string, sizeBytes int64, frameCount int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.conn.Exec(
		`INSERT INTO segments (robot_id, type, start_ms, end_ms, s3_key, size_bytes, frame_count)
		 VALUES (?, 'active', ?, ?, ?, ?, ?)`,
		d.robotID, startMs, endMs, s3Key, sizeBytes, frameCount)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("insert active segment: %w", err))
	}
	return res.LastInsertId()
}

// InsertIdle records an idle-interval snapshot (a representative JPEG
// for JPEG streams, or a media-less marker row for H.264 streams).
func (d *DB) InsertIdle(startMs, endMs int64, s3Key string, sizeBytes int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.conn.Exec(
		`INSERT INTO segments (robot_id, type, start_ms, end_ms, s3_key, size_bytes)
		 VALUES (?, 'idle', ?, ?, ?, ?)`,
		d.robotID, startMs, endMs, s3Key, sizeBytes)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("insert idle segment: %w", err))
	}
	return res.LastInsertId()
}

// SegmentFilter narrows ListSegments; a zero value of any field means
// "no filter on this field". HasStart/HasEnd/HasType disambiguate an
// intentional zero from "not set".
type SegmentFilter struct {
	StartMs  int64
	HasStart bool
	EndMs    int64
	HasEnd   bool
	Type     string
	HasType  bool
	Limit    int
}

// ListSegments builds its WHERE clause only from the filters actually
// present, binding each by name — unlike a scheme that always binds
// ?2/?3/?4 by fixed position regardless of which clauses are in the
// SQL text (which errors out the moment the parameter count quoted in
// the statement stops matching the count supplied), this can never
// drift out of sync with the clause list.
func (d *DB) ListSegments(filter SegmentFilter) ([]Segment, error) {
	wheres := []string{"robot_id = :robot_id"}
	args := []any{sql.Named("robot_id", d.robotID)}

	if filter.HasStart {
		wheres = append(wheres, "end_ms >= :start_ms")
		args = append(args, sql.Named("start_ms", filter.StartMs))
	}
	if filter.HasEnd {
		wheres = append(wheres, "start_ms <= :end_ms")
		args = append(args, sql.Named("end_ms", filter.EndMs))
	}
	if filter.HasType {
		wheres = append(wheres, "type = :type")
		args = append(args, sql.Named("type", filter.Type))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(
		`SELECT id, robot_id, type, start_ms, end_ms, s3_key, size_bytes, frame_count, labels
		 FROM segments WHERE %s ORDER BY start_ms ASC LIMIT %d`,
		strings.Join(wheres, " AND "), limit)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexQuery, fmt.Errorf("list segments: %w", err))
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var s Segment
		var labelsJSON string
		var size, frames sql.NullInt64
		if err := rows.Scan(&s.ID, &s.RobotID, &s.Type, &s.StartMs, &s.EndMs, &s.S3Key, &size, &frames, &labelsJSON); err != nil {
			return nil, ferrors.Wrap(ferrors.IndexQuery, fmt.Errorf("scan segment: %w", err))
		}
		s.SizeBytes = size.Int64
		s.FrameCount = frames.Int64
		if labelsJSON != "" {
			_ = json.Unmarshal([]byte(labelsJSON), &s.Labels)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSegment fetches one segment by id, or (nil, nil) if absent.
func (d *DB) GetSegment(id int64) (*Segment, error) {
	row := d.conn.QueryRow(
		`SELECT id, robot_id, type, start_ms, end_ms, s3_key, size_bytes, frame_count, labels
		 FROM segments WHERE robot_id = ? AND id = ?`, d.robotID, id)

	var s Segment
	var labelsJSON string
	var size, frames sql.NullInt64
	err := row.Scan(&s.ID, &s.RobotID, &s.Type, &s.StartMs, &s.EndMs, &s.S3Key, &size, &frames, &labelsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexQuery, fmt.Errorf("get segment %d: %w", id, err))
	}
	s.SizeBytes = size.Int64
	s.FrameCount = frames.Int64
	if labelsJSON != "" {
		_ = json.Unmarshal([]byte(labelsJSON), &s.Labels)
	}
	return &s, nil
}

// UpdateLabels replaces a segment's labels. Returns false if no row matched.
func (d *DB) UpdateLabels(id int64, labels []string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.Marshal(labels)
	if err != nil {
		return false, ferrors.Wrap(ferrors.IndexWrite, err)
	}
	res, err := d.conn.Exec(`UPDATE segments SET labels = ? WHERE robot_id = ? AND id = ?`, string(data), d.robotID, id)
	if err != nil {
		return false, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("update labels: %w", err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Timeline returns segments in [startMs, endMs] plus the earliest and
// latest start_ms across the whole robot (not just the filtered range).
func (d *DB) Timeline(startMs, endMs int64, limit int) (segments []Segment, earliestMs, latestMs int64, err error) {
	segments, err = d.ListSegments(SegmentFilter{StartMs: startMs, HasStart: true, EndMs: endMs, HasEnd: true, Limit: limit})
	if err != nil {
		return nil, 0, 0, err
	}

	row := d.conn.QueryRow(`SELECT MIN(start_ms), MAX(start_ms) FROM segments WHERE robot_id = ?`, d.robotID)
	var minMs, maxMs sql.NullInt64
	if err := row.Scan(&minMs, &maxMs); err != nil {
		return nil, 0, 0, ferrors.Wrap(ferrors.IndexQuery, fmt.Errorf("timeline bounds: %w", err))
	}
	return segments, minMs.Int64, maxMs.Int64, nil
}

// ListCollections returns every collection for this robot.
func (d *DB) ListCollections() ([]Collection, error) {
	rows, err := d.conn.Query(`SELECT id, robot_id, name, description, created_at, updated_at FROM collections WHERE robot_id = ? ORDER BY created_at DESC`, d.robotID)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexQuery, err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.RobotID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, ferrors.Wrap(ferrors.IndexQuery, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCollection inserts a new collection, returning ErrDuplicateName
// if (robot_id, name) already exists.
func (d *DB) CreateCollection(name, description string, nowMs int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.conn.Exec(
		`INSERT INTO collections (robot_id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		d.robotID, name, description, nowMs, nowMs)
	if err != nil {
		if isUniqueConstraint(err) {
			return 0, ErrDuplicateName
		}
		return 0, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("create collection: %w", err))
	}
	return res.LastInsertId()
}

// GetCollection fetches one collection by id, or (nil, nil) if absent.
func (d *DB) GetCollection(id int64) (*Collection, error) {
	row := d.conn.QueryRow(`SELECT id, robot_id, name, description, created_at, updated_at FROM collections WHERE robot_id = ? AND id = ?`, d.robotID, id)
	var c Collection
	err := row.Scan(&c.ID, &c.RobotID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexQuery, fmt.Errorf("get collection %d: %w", id, err))
	}
	return &c, nil
}

// DeleteCollection removes a collection; ON DELETE CASCADE drops its
// clips. Returns false if no row matched.
func (d *DB) DeleteCollection(id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.conn.Exec(`DELETE FROM collections WHERE robot_id = ? AND id = ?`, d.robotID, id)
	if err != nil {
		return false, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("delete collection: %w", err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) touchCollection(id, nowMs int64) error {
	_, err := d.conn.Exec(`UPDATE collections SET updated_at = ? WHERE id = ?`, nowMs, id)
	return err
}

// ListClips returns every clip in a collection.
func (d *DB) ListClips(collectionID int64) ([]Clip, error) {
	rows, err := d.conn.Query(
		`SELECT id, collection_id, robot_id, modality, clip_start_ms, clip_end_ms, segment_ids, manifest_s3_key, created_at
		 FROM collection_clips WHERE collection_id = ? ORDER BY clip_start_ms ASC`, collectionID)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexQuery, err)
	}
	defer rows.Close()

	var out []Clip
	for rows.Next() {
		var c Clip
		var segJSON string
		var manifestKey sql.NullString
		if err := rows.Scan(&c.ID, &c.CollectionID, &c.RobotID, &c.Modality, &c.ClipStartMs, &c.ClipEndMs, &segJSON, &manifestKey, &c.CreatedAt); err != nil {
			return nil, ferrors.Wrap(ferrors.IndexQuery, err)
		}
		c.ManifestS3Key = manifestKey.String
		_ = json.Unmarshal([]byte(segJSON), &c.SegmentIDs)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateClip inserts a clip row and touches the parent collection's
// updated_at in the same locked section. manifestKey may be empty if
// the manifest PUT failed (the caller logs that separately; a failed
// manifest write must never block the clip insert).
func (d *DB) CreateClip(collectionID int64, modality string, startMs, endMs int64, segmentIDs []int64, manifestKey string, nowMs int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	segJSON, err := json.Marshal(segmentIDs)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.IndexWrite, err)
	}

	res, err := d.conn.Exec(
		`INSERT INTO collection_clips (collection_id, robot_id, modality, clip_start_ms, clip_end_ms, segment_ids, manifest_s3_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		collectionID, d.robotID, modality, startMs, endMs, string(segJSON), nullIfEmpty(manifestKey), nowMs)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("create clip: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, ferrors.Wrap(ferrors.IndexWrite, err)
	}

	if err := d.touchCollection(collectionID, nowMs); err != nil {
		return id, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("touch collection: %w", err))
	}
	return id, nil
}

// DeleteClip removes one clip. Returns false if no row matched.
func (d *DB) DeleteClip(collectionID, clipID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.conn.Exec(`DELETE FROM collection_clips WHERE collection_id = ? AND id = ?`, collectionID, clipID)
	if err != nil {
		return false, ferrors.Wrap(ferrors.IndexWrite, fmt.Errorf("delete clip: %w", err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SegmentsByIDs fetches segments for a download-info / manifest build,
// preserving none of the input order (callers sort as needed).
func (d *DB) SegmentsByIDs(ids []int64) ([]Segment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, robot_id, type, start_ms, end_ms, s3_key, size_bytes, frame_count, labels
		FROM segments WHERE robot_id = ? AND id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := d.conn.Query(query, append([]any{d.robotID}, args...)...)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexQuery, err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var s Segment
		var labelsJSON string
		var size, frames sql.NullInt64
		if err := rows.Scan(&s.ID, &s.RobotID, &s.Type, &s.StartMs, &s.EndMs, &s.S3Key, &size, &frames, &labelsJSON); err != nil {
			return nil, ferrors.Wrap(ferrors.IndexQuery, err)
		}
		s.SizeBytes = size.Int64
		s.FrameCount = frames.Int64
		out = append(out, s)
	}
	return out, rows.Err()
}

// ErrDuplicateName is returned by CreateCollection on a (robot_id, name) conflict.
var ErrDuplicateName = fmt.Errorf("collection name already exists")

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListRobots enumerates robot identifiers by listing {dbDir}/*.db.
func ListRobots(dbDir string) ([]string, error) {
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.IndexQuery, fmt.Errorf("read %s: %w", dbDir, err))
	}
	var robots []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".db") && !strings.HasSuffix(e.Name(), "-wal") && !strings.HasSuffix(e.Name(), "-shm") {
			robots = append(robots, strings.TrimSuffix(e.Name(), ".db"))
		}
	}
	return robots, nil
}

// NowMs is a small helper so callers needn't import time directly for
// the created_at/updated_at columns.
func NowMs(t time.Time) int64 { return t.UnixMilli() }
