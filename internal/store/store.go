// Package store persists the pipeline's durable state in SQLite: the
// processed-URL marks, the cluster store, the cached article bodies and
// the published events.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"newsdesk/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a store instance, creating the data directory and schema on
// first use.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "newsdesk.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// initialize creates the necessary tables.
func (s *Store) initialize() error {
	processedTable := `
	CREATE TABLE IF NOT EXISTS processed_urls (
		url TEXT PRIMARY KEY,
		first_seen DATETIME
	);`

	bodiesTable := `
	CREATE TABLE IF NOT EXISTS bodies (
		url TEXT PRIMARY KEY,
		body TEXT,
		unavailable INTEGER,
		fetched_at DATETIME
	);`

	clustersTable := `
	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		state TEXT,
		first_seen DATETIME,
		last_seen DATETIME,
		data TEXT
	);`

	eventsTable := `
	CREATE TABLE IF NOT EXISTS published_events (
		id TEXT PRIMARY KEY,
		cluster_id TEXT UNIQUE,
		version INTEGER,
		created_at DATETIME,
		last_updated_at DATETIME,
		data TEXT
	);`

	tables := []string{processedTable, bodiesTable, clustersTable, eventsTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkProcessed records a URL as processed. The INSERT OR IGNORE makes the
// check-and-insert atomic across concurrent pollers; the return value
// reports whether this call inserted the mark.
func (s *Store) MarkProcessed(url string, firstSeen time.Time) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO processed_urls (url, first_seen) VALUES (?, ?)`,
		url, firstSeen.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark processed url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FilterProcessed returns the subset of urls that already carry a mark.
func (s *Store) FilterProcessed(urls []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(urls))
	stmt, err := s.db.Prepare(`SELECT 1 FROM processed_urls WHERE url = ?`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare processed lookup: %w", err)
	}
	defer stmt.Close()

	for _, url := range urls {
		var one int
		err := stmt.QueryRow(url).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check processed url: %w", err)
		}
		seen[url] = true
	}
	return seen, nil
}

// CacheBody stores a fetched article body (or a permanent-failure mark)
// keyed by URL.
func (s *Store) CacheBody(url, body string, unavailable bool) error {
	flag := 0
	if unavailable {
		flag = 1
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO bodies (url, body, unavailable, fetched_at) VALUES (?, ?, ?, ?)`,
		url, body, flag, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache body: %w", err)
	}
	return nil
}

// GetCachedBody returns a previously fetched body. found is false on a
// cache miss or when the entry is older than maxAge.
func (s *Store) GetCachedBody(url string, maxAge time.Duration) (body string, unavailable bool, found bool, err error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var flag int
	row := s.db.QueryRow(
		`SELECT body, unavailable FROM bodies WHERE url = ? AND fetched_at > ?`,
		url, cutoff,
	)
	err = row.Scan(&body, &flag)
	if err == sql.ErrNoRows {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, fmt.Errorf("failed to scan cached body: %w", err)
	}
	return body, flag == 1, true, nil
}

// SaveCluster upserts a cluster. Members are stored as a JSON blob.
func (s *Store) SaveCluster(cluster *core.EventCluster) error {
	data, err := json.Marshal(cluster)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster %s: %w", cluster.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO clusters (id, state, first_seen, last_seen, data) VALUES (?, ?, ?, ?, ?)`,
		cluster.ID, string(cluster.State), cluster.FirstSeen.UTC(), cluster.LastSeen.UTC(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save cluster %s: %w", cluster.ID, err)
	}
	return nil
}

// ActiveClusters returns every non-closed cluster whose last-seen is
// within the clustering window.
func (s *Store) ActiveClusters(window time.Duration) ([]*core.EventCluster, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.Query(
		`SELECT data FROM clusters WHERE state != ? AND last_seen >= ? ORDER BY last_seen DESC`,
		string(core.ClusterClosed), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*core.EventCluster
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		var cluster core.EventCluster
		if err := json.Unmarshal([]byte(data), &cluster); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cluster: %w", err)
		}
		clusters = append(clusters, &cluster)
	}
	return clusters, rows.Err()
}

// CloseExpiredClusters transitions clusters whose window has elapsed to
// the closed state. Returns how many were closed.
func (s *Store) CloseExpiredClusters(window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	res, err := s.db.Exec(
		`UPDATE clusters SET state = ? WHERE state != ? AND last_seen < ?`,
		string(core.ClusterClosed), string(core.ClusterClosed), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close expired clusters: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetPublishedByCluster returns the published event for a cluster, or nil
// when the cluster has never been published.
func (s *Store) GetPublishedByCluster(clusterID string) (*core.PublishedEvent, error) {
	var data string
	row := s.db.QueryRow(`SELECT data FROM published_events WHERE cluster_id = ?`, clusterID)
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan published event: %w", err)
	}
	var event core.PublishedEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal published event: %w", err)
	}
	return &event, nil
}

// SavePublished upserts a published event.
func (s *Store) SavePublished(event *core.PublishedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO published_events (id, cluster_id, version, created_at, last_updated_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.ClusterID, event.Version, event.CreatedAt.UTC(), event.LastUpdatedAt.UTC(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return nil
}

// Stats summarises store contents for the cycle report.
type Stats struct {
	ProcessedURLs   int
	ActiveClusters  int
	PublishedEvents int
	CachedBodies    int
	FileSize        int64
}

// GetStats returns store statistics.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	queries := map[string]*int{
		"SELECT COUNT(*) FROM processed_urls":                   &stats.ProcessedURLs,
		"SELECT COUNT(*) FROM clusters WHERE state != 'closed'": &stats.ActiveClusters,
		"SELECT COUNT(*) FROM published_events":                 &stats.PublishedEvents,
		"SELECT COUNT(*) FROM bodies":                           &stats.CachedBodies,
	}
	for query, target := range queries {
		if err := s.db.QueryRow(query).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.FileSize = fileInfo.Size()
	}
	return stats, nil
}

// Cleanup removes processed-URL marks and cached bodies older than their
// horizons. The horizon must exceed the retention window or entries could
// be rescored after a mark expires.
func (s *Store) Cleanup(processedHorizon, bodyTTL time.Duration) error {
	now := time.Now().UTC()
	if _, err := s.db.Exec(`DELETE FROM processed_urls WHERE first_seen < ?`, now.Add(-processedHorizon)); err != nil {
		return fmt.Errorf("failed to clean processed urls: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM bodies WHERE fetched_at < ?`, now.Add(-bodyTTL)); err != nil {
		return fmt.Errorf("failed to clean cached bodies: %w", err)
	}
	return nil
}
