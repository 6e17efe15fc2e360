package db

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sketchwall/backend/internal/canvas"
)

type Database struct {
	db *sql.DB
}

// Board is one saved snapshot of an action history. Content is the
// JSON-serialized action list; ContentHash lets autosave skip duplicates.
type Board struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Content     string    `json:"content,omitempty"`
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	IsAuto      bool      `json:"is_auto"`
	CreatedAt   time.Time `json:"created_at"`
}

// Actions decodes the saved history.
func (b *Board) Actions() ([]canvas.Action, error) {
	var history []canvas.Action
	if err := json.Unmarshal([]byte(b.Content), &history); err != nil {
		return nil, err
	}
	return history, nil
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS boards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_by TEXT DEFAULT '',
		is_auto BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_boards_created_at ON boards(created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveBoard stores a snapshot and returns the stored row.
func (d *Database) SaveBoard(name, content, contentHash, createdBy string, isAuto bool) (*Board, error) {
	result, err := d.db.Exec(`
		INSERT INTO boards (name, content, content_hash, created_by, is_auto)
		VALUES (?, ?, ?, ?, ?)
	`, name, content, contentHash, createdBy, isAuto)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetBoard(int(id))
}

// GetBoard returns a board by id, or nil when it does not exist.
func (d *Database) GetBoard(id int) (*Board, error) {
	row := d.db.QueryRow(`
		SELECT id, name, content, content_hash, created_by, is_auto, created_at
		FROM boards WHERE id = ?
	`, id)

	var b Board
	err := row.Scan(&b.ID, &b.Name, &b.Content, &b.ContentHash, &b.CreatedBy, &b.IsAuto, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBoards returns saved boards newest first, without content.
func (d *Database) ListBoards(limit, offset int) ([]Board, error) {
	rows, err := d.db.Query(`
		SELECT id, name, content_hash, created_by, is_auto, created_at
		FROM boards
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boards []Board
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.Name, &b.ContentHash, &b.CreatedBy, &b.IsAuto, &b.CreatedAt); err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// LatestBoard returns the most recent snapshot, or nil when none exist.
func (d *Database) LatestBoard() (*Board, error) {
	row := d.db.QueryRow(`
		SELECT id, name, content, content_hash, created_by, is_auto, created_at
		FROM boards
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`)

	var b Board
	err := row.Scan(&b.ID, &b.Name, &b.Content, &b.ContentHash, &b.CreatedBy, &b.IsAuto, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *Database) DeleteBoard(id int) error {
	_, err := d.db.Exec("DELETE FROM boards WHERE id = ?", id)
	return err
}

// DeleteOldAutosaves removes auto-saved snapshots, keeping the newest N.
func (d *Database) DeleteOldAutosaves(keepCount int) error {
	_, err := d.db.Exec(`
		DELETE FROM boards
		WHERE is_auto = TRUE AND id NOT IN (
			SELECT id FROM boards
			WHERE is_auto = TRUE
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, keepCount)
	return err
}

func (d *Database) BoardCount() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM boards").Scan(&count)
	return count, err
}
