package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger is the durable record of previously published items, keyed by a
// hash of the item URL. It backs both deduplication and the rolling-window
// rate counters, so any storage error here is treated as fatal by callers.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Stats summarizes the ledger for the status API.
type Stats struct {
	TotalEntries int
	SentLast24h  int
}

// Open creates the database file (and parent directory) if needed and
// applies pending schema migrations.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// All access is sequential from a single control flow.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

// HashURL returns the identity hash for a URL: a sha256 digest of the raw
// string. No normalization is applied, so URL variants of the same article
// count as distinct items.
func HashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// DomainOf returns the lowercased hostname of a URL, or "" if it cannot be
// parsed. Domain is a projection used only for rate-limit queries.
func DomainOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// Exists reports whether the URL has already been published.
func (l *Ledger) Exists(rawURL string) (bool, error) {
	var one int
	err := l.db.QueryRow("SELECT 1 FROM sent_items WHERE url_hash = ?", HashURL(rawURL)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check sent item: %w", err)
	}
	return true, nil
}

// Record inserts a ledger entry with the current UTC timestamp. Recording an
// already-present URL is a no-op, not an error.
func (l *Ledger) Record(rawURL, title string) error {
	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO sent_items (url_hash, url, domain, title, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`, HashURL(rawURL), rawURL, DomainOf(rawURL), title, l.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to record sent item: %w", err)
	}
	return nil
}

// CountSince returns the number of entries recorded at or after windowStart,
// across all domains.
func (l *Ledger) CountSince(windowStart time.Time) (int, error) {
	var count int
	err := l.db.QueryRow("SELECT COUNT(*) FROM sent_items WHERE sent_at >= ?",
		windowStart.UTC().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent items: %w", err)
	}
	return count, nil
}

// CountSinceByDomain returns the number of entries for one domain recorded
// at or after windowStart. An empty domain never counts anything.
func (l *Ledger) CountSinceByDomain(domain string, windowStart time.Time) (int, error) {
	if domain == "" {
		return 0, nil
	}
	var count int
	err := l.db.QueryRow("SELECT COUNT(*) FROM sent_items WHERE domain = ? AND sent_at >= ?",
		domain, windowStart.UTC().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent items by domain: %w", err)
	}
	return count, nil
}

// Prune deletes entries older than cutoff and returns how many were removed.
// Only recent entries affect any publishing decision, so retention is a
// non-breaking space optimization.
func (l *Ledger) Prune(cutoff time.Time) (int64, error) {
	res, err := l.db.Exec("DELETE FROM sent_items WHERE sent_at < ?", cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}
	return removed, nil
}

// GetStats returns entry counts for the status API.
func (l *Ledger) GetStats() (Stats, error) {
	var stats Stats

	err := l.db.QueryRow("SELECT COUNT(*) FROM sent_items").Scan(&stats.TotalEntries)
	if err != nil {
		return stats, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	cutoff := l.now().UTC().Add(-24 * time.Hour).Unix()
	err = l.db.QueryRow("SELECT COUNT(*) FROM sent_items WHERE sent_at >= ?", cutoff).Scan(&stats.SentLast24h)
	if err != nil {
		return stats, fmt.Errorf("failed to count recent ledger entries: %w", err)
	}

	return stats, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
