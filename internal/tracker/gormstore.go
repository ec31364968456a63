package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// sessionRow is the relational shape of a Session. The step map, input data
// and error list are stored as JSON blobs; the columns that the queries and
// the sweep need are first-class.
type sessionRow struct {
	SessionID        string    `gorm:"primaryKey;size:64"`
	UserID           string    `gorm:"index;size:64"`
	Username         string    `gorm:"size:128"`
	UserRole         string    `gorm:"size:32"`
	UserName         string    `gorm:"size:128"`
	Status           string    `gorm:"index;size:16"`
	Progress         int
	StartTime        time.Time `gorm:"index"`
	EndTime          *time.Time
	DurationSeconds  *int
	StepsJSON        []byte `gorm:"type:jsonb"`
	InputJSON        []byte `gorm:"type:jsonb"`
	ErrorsJSON       []byte `gorm:"type:jsonb"`
	CompletionReason string `gorm:"size:32"`
	LastActivity     time.Time
}

func (sessionRow) TableName() string { return "installation_sessions" }

// statsRow is the relational shape of UserStats.
type statsRow struct {
	UserID    string `gorm:"primaryKey;size:64"`
	StatsJSON []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (statsRow) TableName() string { return "installation_user_stats" }

// GormStore persists sessions and aggregates in PostgreSQL.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Postgres-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tracker tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionRow{}, &statsRow{})
}

func toRow(s *Session) (*sessionRow, error) {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal steps: %w", err)
	}
	input, err := json.Marshal(s.InputData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input data: %w", err)
	}
	errList, err := json.Marshal(s.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal errors: %w", err)
	}
	return &sessionRow{
		SessionID:        s.SessionID,
		UserID:           s.UserID,
		Username:         s.Username,
		UserRole:         s.UserRole,
		UserName:         s.UserName,
		Status:           s.Status,
		Progress:         s.Progress,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		DurationSeconds:  s.DurationSeconds,
		StepsJSON:        steps,
		InputJSON:        input,
		ErrorsJSON:       errList,
		CompletionReason: s.CompletionReason,
		LastActivity:     s.LastActivity,
	}, nil
}

func fromRow(row *sessionRow) (*Session, error) {
	s := &Session{
		SessionID:        row.SessionID,
		UserID:           row.UserID,
		Username:         row.Username,
		UserRole:         row.UserRole,
		UserName:         row.UserName,
		Status:           row.Status,
		Progress:         row.Progress,
		StartTime:        row.StartTime,
		EndTime:          row.EndTime,
		DurationSeconds:  row.DurationSeconds,
		CompletionReason: row.CompletionReason,
		LastActivity:     row.LastActivity,
		Steps:            NewSteps(),
		InputData:        make(map[string]interface{}),
	}
	if len(row.StepsJSON) > 0 {
		if err := json.Unmarshal(row.StepsJSON, &s.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	if len(row.InputJSON) > 0 {
		if err := json.Unmarshal(row.InputJSON, &s.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
		}
	}
	if len(row.ErrorsJSON) > 0 {
		if err := json.Unmarshal(row.ErrorsJSON, &s.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}
	return s, nil
}

// SaveSession upserts a session row.
func (g *GormStore) SaveSession(ctx context.Context, s *Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Save(row).Error
}

// GetSession returns a session by id.
func (g *GormStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return fromRow(&row)
}

// ListSessions returns sessions matching the filter, newest first.
func (g *GormStore) ListSessions(ctx context.Context, f Filter) ([]*Session, error) {
	q := g.db.WithContext(ctx).Model(&sessionRow{}).Order("start_time DESC")
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("start_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("start_time <= ?", *f.To)
	}

	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(rows))
	for i := range rows {
		s, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// SaveStats upserts a user's aggregate.
func (g *GormStore) SaveStats(ctx context.Context, st *UserStats) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	row := &statsRow{UserID: st.UserID, StatsJSON: data, UpdatedAt: time.Now().UTC()}
	return g.db.WithContext(ctx).Save(row).Error
}

// GetStats returns a user's aggregate, or nil when the user has none yet.
func (g *GormStore) GetStats(ctx context.Context, userID string) (*UserStats, error) {
	var row statsRow
	err := g.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var st UserStats
	if err := json.Unmarshal(row.StatsJSON, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	return &st, nil
}

// AllStats returns every user aggregate keyed by user id.
func (g *GormStore) AllStats(ctx context.Context) (map[string]*UserStats, error) {
	var rows []statsRow
	if err := g.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*UserStats, len(rows))
	for i := range rows {
		var st UserStats
		if err := json.Unmarshal(rows[i].StatsJSON, &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
		out[st.UserID] = &st
	}
	return out, nil
}
