// services/install/internal/tracker/filestore.go
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

const (
	activitiesFileName = "installation-activities.json"
	statsFileName      = "activity-stats.json"
)

// FileStore keeps all sessions and stats in memory and mirrors them to two
// JSON documents, each rewritten in full on every mutation. Suited to the
// small data volumes of a single installation team.
type FileStore struct {
	dataDir  string
	logger   *logrus.Logger
	sessions map[string]*Session
	order    []string
	stats    map[string]*UserStats
}

// NewFileStore loads existing documents from dataDir, creating the
// directory when missing.
func NewFileStore(dataDir string, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	fs := &FileStore{
		dataDir:  dataDir,
		logger:   logger,
		sessions: make(map[string]*Session),
		stats:    make(map[string]*UserStats),
	}

	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	var sessions []*Session
	if err := readJSONFile(filepath.Join(fs.dataDir, activitiesFileName), &sessions); err != nil {
		return err
	}
	for _, s := range sessions {
		fs.sessions[s.SessionID] = s
		fs.order = append(fs.order, s.SessionID)
	}

	if err := readJSONFile(filepath.Join(fs.dataDir, statsFileName), &fs.stats); err != nil {
		return err
	}

	fs.logger.WithFields(logrus.Fields{
		"sessions": len(fs.sessions),
		"users":    len(fs.stats),
	}).Info("Loaded activity data")
	return nil
}

func readJSONFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (fs *FileStore) flushSessions() error {
	sessions := make([]*Session, 0, len(fs.order))
	for _, id := range fs.order {
		sessions = append(sessions, fs.sessions[id])
	}
	return writeJSONFile(filepath.Join(fs.dataDir, activitiesFileName), sessions)
}

func (fs *FileStore) flushStats() error {
	return writeJSONFile(filepath.Join(fs.dataDir, statsFileName), fs.stats)
}

func writeJSONFile(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SaveSession inserts or replaces a session and rewrites the activities
// document.
func (fs *FileStore) SaveSession(_ context.Context, s *Session) error {
	if _, exists := fs.sessions[s.SessionID]; !exists {
		fs.order = append(fs.order, s.SessionID)
	}
	fs.sessions[s.SessionID] = s
	return fs.flushSessions()
}

// GetSession returns a session by id. Reads hand out deep copies: the
// in-memory originals stay private to the store, so a caller holding a
// returned session never races a later mutation.
func (fs *FileStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s, ok := fs.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// ListSessions returns sessions matching the filter, newest first.
func (fs *FileStore) ListSessions(_ context.Context, f Filter) ([]*Session, error) {
	matched := make([]*Session, 0)
	for _, id := range fs.order {
		s := fs.sessions[id]
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.From != nil && s.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && s.StartTime.After(*f.To) {
			continue
		}
		matched = append(matched, s.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartTime.After(matched[j].StartTime)
	})
	return matched, nil
}

// SaveStats replaces a user's aggregate and rewrites the stats document.
func (fs *FileStore) SaveStats(_ context.Context, st *UserStats) error {
	fs.stats[st.UserID] = st
	return fs.flushStats()
}

// GetStats returns a user's aggregate, or nil when the user has none yet.
func (fs *FileStore) GetStats(_ context.Context, userID string) (*UserStats, error) {
	return fs.stats[userID], nil
}

// AllStats returns every user aggregate keyed by user id.
func (fs *FileStore) AllStats(_ context.Context) (map[string]*UserStats, error) {
	out := make(map[string]*UserStats, len(fs.stats))
	for id, st := range fs.stats {
		out[id] = st
	}
	return out, nil
}
