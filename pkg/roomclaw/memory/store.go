// Package memory – store.go implements the SQLite-backed durable memory:
// an append-only archive of serialized events keyed by agent identity, and
// a relevance index combining FTS5 (BM25) keyword search with in-process
// cosine vector search. Embeddings are stored as JSON-encoded float32
// arrays, avoiding the sqlite-vec extension while keeping hybrid search.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver with FTS5 support.
)

// Result is a single relevance-index hit.
type Result struct {
	ItemID string
	Text   string
	Score  float64
}

// ArchiveEntry is one durable event-log record.
type ArchiveEntry struct {
	AgentID   string
	RoomID    string
	Text      string
	CreatedAt time.Time
}

// Store provides the durable archive and the relevance index.
type Store struct {
	db       *sql.DB
	embedder EmbeddingProvider
	logger   *slog.Logger

	// ftsAvailable indicates whether FTS5 can back keyword search. When
	// false, search degrades to vector-only.
	ftsAvailable bool

	// vectors holds all indexed embeddings in memory for cosine search.
	vectorsMu sync.RWMutex
	vectors   []vectorEntry
}

type vectorEntry struct {
	itemID    string
	text      string
	embedding []float32
}

// Open opens or creates the memory database at path.
func Open(path string, embedder EmbeddingProvider, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "memory"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := s.loadVectors(); err != nil {
		s.logger.Warn("failed to load vector cache", "error", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	core := `
		CREATE TABLE IF NOT EXISTS archive (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id   TEXT NOT NULL,
			room_id    TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_archive_agent ON archive(agent_id, id);

		CREATE TABLE IF NOT EXISTS items (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id    TEXT UNIQUE NOT NULL,
			text       TEXT NOT NULL,
			embedding  TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(core); err != nil {
		return err
	}

	// FTS5 may be compiled out; degrade to vector-only search.
	fts := `CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(item_id UNINDEXED, text)`
	if _, err := s.db.Exec(fts); err != nil {
		s.logger.Warn("FTS5 unavailable, keyword search disabled", "error", err)
		s.ftsAvailable = false
		return nil
	}
	s.ftsAvailable = true
	return nil
}

// AppendArchive appends one serialized event to the durable log.
func (s *Store) AppendArchive(ctx context.Context, agentID, roomID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archive (agent_id, room_id, text) VALUES (?, ?, ?)`,
		agentID, roomID, text)
	if err != nil {
		return fmt.Errorf("append archive: %w", err)
	}
	return nil
}

// Archive returns the most recent archive entries for an agent, oldest
// first.
func (s *Store) Archive(ctx context.Context, agentID string, limit int) ([]ArchiveEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, room_id, text, created_at FROM (
			SELECT id, agent_id, room_id, text, created_at
			FROM archive WHERE agent_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []ArchiveEntry
	for rows.Next() {
		var e ArchiveEntry
		if err := rows.Scan(&e.AgentID, &e.RoomID, &e.Text, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IndexItem adds or replaces one item in the relevance index. Embedding
// failures are logged and leave the item keyword-searchable only.
func (s *Store) IndexItem(ctx context.Context, itemID, text string) error {
	var embedded []float32
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		s.logger.Warn("embedding failed, indexing without vector", "item", itemID, "error", err)
	} else if len(vecs) == 1 {
		embedded = vecs[0]
	}

	var embJSON any
	if embedded != nil {
		raw, err := json.Marshal(embedded)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embJSON = string(raw)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO items (item_id, text, embedding) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET text = excluded.text, embedding = excluded.embedding`,
		itemID, text, embJSON); err != nil {
		return fmt.Errorf("index item: %w", err)
	}
	if s.ftsAvailable {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM items_fts WHERE item_id = ?`, itemID); err == nil {
			_, _ = s.db.ExecContext(ctx, `INSERT INTO items_fts (item_id, text) VALUES (?, ?)`, itemID, text)
		}
	}

	if embedded != nil {
		s.vectorsMu.Lock()
		replaced := false
		for i := range s.vectors {
			if s.vectors[i].itemID == itemID {
				s.vectors[i] = vectorEntry{itemID: itemID, text: text, embedding: embedded}
				replaced = true
				break
			}
		}
		if !replaced {
			s.vectors = append(s.vectors, vectorEntry{itemID: itemID, text: text, embedding: embedded})
		}
		s.vectorsMu.Unlock()
	}
	return nil
}

// Search runs hybrid retrieval: cosine similarity over cached vectors
// merged with BM25 keyword hits. exclude filters candidates by item id
// before ranking; it may be nil.
func (s *Store) Search(ctx context.Context, query string, k int, exclude func(itemID string) bool) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	merged := make(map[string]*Result)

	vecResults, err := s.searchVector(ctx, query, k*2)
	if err != nil {
		s.logger.Warn("vector search failed", "error", err)
	}
	for _, r := range vecResults {
		merged[r.ItemID] = &Result{ItemID: r.ItemID, Text: r.Text, Score: r.Score}
	}

	if s.ftsAvailable {
		ftsResults, err := s.searchBM25(ctx, query, k*2)
		if err != nil {
			s.logger.Warn("keyword search failed", "error", err)
		}
		for _, r := range ftsResults {
			if m, ok := merged[r.ItemID]; ok {
				// A hit from both sides ranks above either alone.
				m.Score += r.Score
				continue
			}
			merged[r.ItemID] = &Result{ItemID: r.ItemID, Text: r.Text, Score: r.Score}
		}
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		if exclude != nil && exclude(r.ItemID) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) searchVector(ctx context.Context, query string, limit int) ([]Result, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qv := vecs[0]

	s.vectorsMu.RLock()
	defer s.vectorsMu.RUnlock()
	out := make([]Result, 0, len(s.vectors))
	for _, e := range s.vectors {
		score := cosineSimilarity(qv, e.embedding)
		if score <= 0 {
			continue
		}
		out = append(out, Result{ItemID: e.itemID, Text: e.text, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) searchBM25(ctx context.Context, query string, limit int) ([]Result, error) {
	ftsQuery := sanitizeFTS5Query(query)
	if ftsQuery == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, text, bm25(items_fts) FROM items_fts
		WHERE items_fts MATCH ? ORDER BY bm25(items_fts) LIMIT ?`,
		ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ItemID, &r.Text, &rank); err != nil {
			return nil, err
		}
		// bm25() returns lower-is-better negative ranks; normalize into
		// (0, 1] so the scale is comparable with cosine scores.
		r.Score = 1 / (1 + math.Abs(rank))
		out = append(out, r)
	}
	return out, rows.Err()
}

// ItemCount returns how many items are indexed.
func (s *Store) ItemCount() int {
	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n)
	return n
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadVectors() error {
	rows, err := s.db.Query(`SELECT item_id, text, embedding FROM items WHERE embedding IS NOT NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var loaded []vectorEntry
	for rows.Next() {
		var e vectorEntry
		var raw string
		if err := rows.Scan(&e.itemID, &e.text, &raw); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(raw), &e.embedding); err != nil {
			continue
		}
		loaded = append(loaded, e)
	}
	s.vectorsMu.Lock()
	s.vectors = loaded
	s.vectorsMu.Unlock()
	return rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sanitizeFTS5Query strips FTS5 operators and quotes each token so user
// text cannot break the MATCH expression.
func sanitizeFTS5Query(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Map(func(r rune) rune {
			switch r {
			case '"', '*', '(', ')', ':', '^', '-':
				return -1
			}
			return r
		}, f)
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
