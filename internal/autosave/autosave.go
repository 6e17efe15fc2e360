// Package autosave periodically snapshots the live board into the
// database so a crash or restart loses at most one interval of drawing.
package autosave

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/sketchwall/backend/internal/canvas"
	"github.com/sketchwall/backend/internal/db"
)

// HistorySource is the session-side surface autosave needs: a consistent
// snapshot of the current action log.
type HistorySource interface {
	History() []canvas.Action
}

type Config struct {
	Interval      time.Duration
	KeepAutosaves int
}

func DefaultConfig() Config {
	return Config{
		Interval:      2 * time.Minute,
		KeepAutosaves: 20,
	}
}

type Service struct {
	database *db.Database
	source   HistorySource
	config   Config
	lastHash string
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, source HistorySource, config Config) *Service {
	return &Service{
		database: database,
		source:   source,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Autosave started (interval: %v, keep: %d)", s.config.Interval, s.config.KeepAutosaves)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("Autosave stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.snapshotOnce()
		}
	}
}

// snapshotOnce saves the current history unless it is empty or identical
// to the previous autosave.
func (s *Service) snapshotOnce() {
	history := s.source.History()
	if len(history) == 0 {
		return
	}

	content, err := json.Marshal(history)
	if err != nil {
		log.Printf("Autosave: failed to serialize history: %v", err)
		return
	}

	hash := HashContent(string(content))
	if hash == s.lastHash {
		return
	}

	name := "Auto-save " + time.Now().Format("Jan 2, 3:04 PM")
	if _, err := s.database.SaveBoard(name, string(content), hash, "", true); err != nil {
		log.Printf("Autosave: failed to save board: %v", err)
		return
	}
	s.lastHash = hash

	if err := s.database.DeleteOldAutosaves(s.config.KeepAutosaves); err != nil {
		log.Printf("Autosave: failed to trim old autosaves: %v", err)
	}
}

// HashContent returns a short content fingerprint for duplicate detection.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}
