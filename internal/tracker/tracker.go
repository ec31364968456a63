// services/install/internal/tracker/tracker.go
package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/backstage/services/install/internal/core"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const currentSessionTTL = 24 * time.Hour

// User identifies the installer a session belongs to.
type User struct {
	ID       string
	Username string
	Role     string
	Name     string
}

// Tracker records installer sessions, step progress and per-user aggregates.
// All access to the store is serialized through the tracker's mutex; step
// recording is observational and never fails a caller's request.
type Tracker struct {
	mu      sync.Mutex
	store   Store
	cache   core.Cache
	logger  *logrus.Logger
	current map[string]string
	now     func() time.Time
}

// New creates a tracker on top of a store. cache may be nil; it only
// persists the per-user current-session index across restarts.
func New(store Store, cache core.Cache, logger *logrus.Logger) *Tracker {
	return &Tracker{
		store:   store,
		cache:   cache,
		logger:  logger,
		current: make(map[string]string),
		now:     time.Now,
	}
}

// StartSession opens a new in-progress session for the user and makes it the
// user's current session.
func (t *Tracker) StartSession(ctx context.Context, user User, input map[string]interface{}) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	s := &Session{
		SessionID:    fmt.Sprintf("session_%d_%s", now.UnixMilli(), uuid.NewString()[:8]),
		UserID:       user.ID,
		Username:     user.Username,
		UserRole:     user.Role,
		UserName:     user.Name,
		Status:       StatusInProgress,
		StartTime:    now,
		Steps:        NewSteps(),
		InputData:    make(map[string]interface{}),
		Errors:       []ErrorEntry{},
		LastActivity: now,
	}
	for k, v := range input {
		s.InputData[k] = v
	}

	if err := t.store.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	t.setCurrent(ctx, user.ID, s.SessionID)

	t.logger.WithFields(logrus.Fields{
		"session_id": s.SessionID,
		"username":   user.Username,
	}).Info("Started installation session")
	return s, nil
}

// UpdateProgress marks a step completed, captures its data into the session
// input and recomputes the percentage.
func (t *Tracker) UpdateProgress(ctx context.Context, sessionID, step string, data map[string]interface{}) (*Session, error) {
	if !IsKnownStep(step) {
		return nil, core.ErrUnknownStep
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := t.now().UTC()
	s.Steps[step] = &StepStatus{Completed: true, Timestamp: &now, Data: data}
	captureStepInput(s, step, data)
	s.RecomputeProgress()
	s.LastActivity = now

	if err := t.store.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"step":       step,
		"progress":   s.Progress,
	}).Info("Session step completed")
	return s, nil
}

// captureStepInput mirrors the fields the frontend submits per step into the
// session's input record.
func captureStepInput(s *Session, step string, data map[string]interface{}) {
	if data == nil {
		return
	}
	copyKeys := func(keys ...string) {
		for _, k := range keys {
			if v, ok := data[k]; ok {
				s.InputData[k] = v
			}
		}
	}
	switch step {
	case "clientSelection":
		copyKeys("client_name", "installationId")
	case "vinSelection":
		copyKeys("vin")
	case "deviceSetup":
		copyKeys("imei", "sim_number", "secondary_imei", "secondary_sim_number")
	case "locationCheck":
		copyKeys("location")
	case "formCompletion":
		copyKeys("formData")
	}
}

// CompleteSession terminates a session and folds it into the user's
// aggregate. A session that is not in progress is left untouched, so a
// session is counted into the stats exactly once.
func (t *Tracker) CompleteSession(ctx context.Context, sessionID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeLocked(ctx, sessionID, reason)
}

func (t *Tracker) completeLocked(ctx context.Context, sessionID, reason string) error {
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != StatusInProgress {
		return nil
	}

	now := t.now().UTC()
	if reason == ReasonCompleted {
		s.Status = StatusCompleted
	} else {
		s.Status = StatusIncomplete
	}
	s.CompletionReason = reason
	s.EndTime = &now
	duration := int(now.Sub(s.StartTime).Round(time.Second).Seconds())
	s.DurationSeconds = &duration
	s.LastActivity = now

	if err := t.store.SaveSession(ctx, s); err != nil {
		return err
	}

	st, err := t.store.GetStats(ctx, s.UserID)
	if err != nil {
		return err
	}
	if st == nil {
		st = NewUserStats(s.UserID)
	}
	st.Absorb(s)
	if err := t.store.SaveStats(ctx, st); err != nil {
		return err
	}

	if t.current[s.UserID] == sessionID {
		delete(t.current, s.UserID)
	}

	t.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"reason":     reason,
		"progress":   s.Progress,
		"duration":   duration,
	}).Info("Completed installation session")
	return nil
}

// LogStepError appends a step failure to the session. Failures to record
// are logged and dropped.
func (t *Tracker) LogStepError(sessionID, step, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx := context.Background()
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		t.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Cannot log step error, session unknown")
		return
	}

	now := t.now().UTC()
	s.Errors = append(s.Errors, ErrorEntry{
		Step:      step,
		Error:     message,
		Timestamp: now,
	})
	s.LastActivity = now

	if err := t.store.SaveSession(ctx, s); err != nil {
		t.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Failed to persist step error")
	}
}

// GetSession returns a session by id.
func (t *Tracker) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.GetSession(ctx, sessionID)
}

// ListSessions returns sessions matching the filter, newest first.
func (t *Tracker) ListSessions(ctx context.Context, f Filter) ([]*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.ListSessions(ctx, f)
}

// UserSummary assembles the per-user activity view: aggregate, ten most
// recent sessions and the sessions still open.
func (t *Tracker) UserSummary(ctx context.Context, userID string) (*UserSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions, err := t.store.ListSessions(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, err
	}
	st, err := t.store.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = NewUserStats(userID)
	}

	recent := sessions
	if len(recent) > 10 {
		recent = recent[:10]
	}
	open := make([]*Session, 0)
	for _, s := range sessions {
		if s.Status == StatusInProgress {
			open = append(open, s)
		}
	}

	return &UserSummary{
		UserID:             userID,
		TotalSessions:      len(sessions),
		Stats:              st,
		RecentSessions:     recent,
		IncompleteSessions: open,
	}, nil
}

// IncompleteSessions returns a user's abandoned or otherwise unfinished
// sessions so the frontend can offer to resume them.
func (t *Tracker) IncompleteSessions(ctx context.Context, userID string) ([]*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.ListSessions(ctx, Filter{UserID: userID, Status: StatusIncomplete})
}

// OverallStats aggregates every session and every user aggregate for the
// admin dashboard.
func (t *Tracker) OverallStats(ctx context.Context) (*OverallStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions, err := t.store.ListSessions(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	allStats, err := t.store.AllStats(ctx)
	if err != nil {
		return nil, err
	}

	out := &OverallStats{
		TotalSessions:       len(sessions),
		StepCompletionRates: make(map[string]int, len(StepNames)),
		UserStats:           allStats,
	}

	totalDuration := 0
	errorCounts := make(map[string]int)
	stepCompleted := make(map[string]int, len(StepNames))

	for _, s := range sessions {
		switch s.Status {
		case StatusCompleted:
			out.CompletedSessions++
		case StatusIncomplete:
			out.IncompleteSessions++
		case StatusInProgress:
			out.InProgressSessions++
		}
		if s.DurationSeconds != nil {
			totalDuration += *s.DurationSeconds
		}
		for name, step := range s.Steps {
			if step.Completed {
				stepCompleted[name]++
			}
		}
		for _, e := range s.Errors {
			errorCounts[e.Step+":"+e.Error]++
		}
	}

	if out.TotalSessions > 0 {
		out.AverageDuration = totalDuration / out.TotalSessions
		out.SuccessRate = out.CompletedSessions * 100 / out.TotalSessions
		for _, name := range StepNames {
			out.StepCompletionRates[name] = stepCompleted[name] * 100 / out.TotalSessions
		}
	} else {
		for _, name := range StepNames {
			out.StepCompletionRates[name] = 0
		}
	}

	ranked := make([]ErrorCount, 0, len(errorCounts))
	for key, count := range errorCounts {
		ranked = append(ranked, ErrorCount{Error: key, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return strings.Compare(ranked[i].Error, ranked[j].Error) < 0
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	out.MostCommonErrors = ranked

	return out, nil
}

// CurrentSessionID returns the user's open session id, empty when none.
func (t *Tracker) CurrentSessionID(ctx context.Context, userID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.current[userID]; ok {
		return id
	}
	if t.cache != nil {
		var id string
		if hit, err := t.cache.Get(ctx, currentSessionKey(userID), &id); err == nil && hit {
			t.current[userID] = id
			return id
		}
	}
	return ""
}

func (t *Tracker) setCurrent(ctx context.Context, userID, sessionID string) {
	t.current[userID] = sessionID
	if t.cache != nil {
		if err := t.cache.Set(ctx, currentSessionKey(userID), sessionID, currentSessionTTL); err != nil {
			t.logger.WithError(err).Warn("Failed to persist current session index")
		}
	}
}

func currentSessionKey(userID string) string {
	return "tracker:current:" + userID
}
