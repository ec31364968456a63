// services/install/internal/tracker/models.go
package tracker

import (
	"math"
	"time"
)

// Session statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
)

// Completion reasons.
const (
	ReasonCompleted = "completed"
	ReasonAbandoned = "abandoned"
)

// StepNames are the workflow steps in their fixed order. Progress is always
// computed against this full set.
var StepNames = []string{
	"clientSelection",
	"vinSelection",
	"deviceSetup",
	"locationCheck",
	"formCompletion",
	"finalConfirmation",
}

// IsKnownStep reports whether name is one of the fixed workflow steps.
func IsKnownStep(name string) bool {
	for _, s := range StepNames {
		if s == name {
			return true
		}
	}
	return false
}

// StepStatus tracks one workflow step inside a session.
type StepStatus struct {
	Completed bool                   `json:"completed"`
	Timestamp *time.Time             `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// ErrorEntry is one logged step failure.
type ErrorEntry struct {
	Step      string                 `json:"step"`
	Error     string                 `json:"error"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Session is one installer's run through the workflow steps.
type Session struct {
	SessionID        string                 `json:"sessionId"`
	UserID           string                 `json:"userId"`
	Username         string                 `json:"username"`
	UserRole         string                 `json:"userRole"`
	UserName         string                 `json:"userName"`
	Status           string                 `json:"status"`
	Progress         int                    `json:"progress"`
	StartTime        time.Time              `json:"startTime"`
	EndTime          *time.Time             `json:"endTime"`
	DurationSeconds  *int                   `json:"duration"`
	Steps            map[string]*StepStatus `json:"steps"`
	InputData        map[string]interface{} `json:"inputData"`
	Errors           []ErrorEntry           `json:"errors"`
	CompletionReason string                 `json:"completionReason,omitempty"`
	LastActivity     time.Time              `json:"lastActivity"`
}

// Clone returns a deep copy of the session, sharing no maps, slices or
// pointers with the original.
func (s *Session) Clone() *Session {
	out := *s
	out.Steps = make(map[string]*StepStatus, len(s.Steps))
	for name, step := range s.Steps {
		cp := *step
		if step.Timestamp != nil {
			ts := *step.Timestamp
			cp.Timestamp = &ts
		}
		if step.Data != nil {
			cp.Data = make(map[string]interface{}, len(step.Data))
			for k, v := range step.Data {
				cp.Data[k] = v
			}
		}
		out.Steps[name] = &cp
	}
	if s.InputData != nil {
		out.InputData = make(map[string]interface{}, len(s.InputData))
		for k, v := range s.InputData {
			out.InputData[k] = v
		}
	}
	out.Errors = append([]ErrorEntry(nil), s.Errors...)
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		out.DurationSeconds = &d
	}
	return &out
}

// NewSteps returns a fresh step map with every step pending.
func NewSteps() map[string]*StepStatus {
	steps := make(map[string]*StepStatus, len(StepNames))
	for _, name := range StepNames {
		steps[name] = &StepStatus{}
	}
	return steps
}

// RecomputeProgress recalculates the session's completion percentage,
// rounded to the nearest integer.
func (s *Session) RecomputeProgress() {
	completed := 0
	for _, step := range s.Steps {
		if step.Completed {
			completed++
		}
	}
	s.Progress = int(math.Round(float64(completed) / float64(len(StepNames)) * 100))
}

// UserStats is the incremental per-user aggregate, updated once per
// terminated session.
type UserStats struct {
	UserID              string         `json:"userId"`
	TotalSessions       int            `json:"totalSessions"`
	CompletedSessions   int            `json:"completedSessions"`
	IncompleteSessions  int            `json:"incompleteSessions"`
	TotalDuration       int            `json:"totalDuration"`
	AverageDuration     int            `json:"averageDuration"`
	SuccessRate         int            `json:"successRate"`
	LastActivity        *time.Time     `json:"lastActivity"`
	StepCompletionRates map[string]int `json:"stepCompletionRates"`
	CommonErrors        map[string]int `json:"commonErrors"`
	AverageProgress     int            `json:"averageProgress"`
	TotalProgress       int            `json:"totalProgress"`
}

// NewUserStats returns an empty aggregate for a user.
func NewUserStats(userID string) *UserStats {
	rates := make(map[string]int, len(StepNames))
	for _, name := range StepNames {
		rates[name] = 0
	}
	return &UserStats{
		UserID:              userID,
		StepCompletionRates: rates,
		CommonErrors:        make(map[string]int),
	}
}

// Absorb folds a terminated session into the aggregate. Counters only ever
// grow.
func (st *UserStats) Absorb(s *Session) {
	st.TotalSessions++
	if s.Status == StatusCompleted {
		st.CompletedSessions++
	} else {
		st.IncompleteSessions++
	}

	if s.DurationSeconds != nil {
		st.TotalDuration += *s.DurationSeconds
	}
	st.AverageDuration = int(math.Round(float64(st.TotalDuration) / float64(st.TotalSessions)))
	st.SuccessRate = int(math.Round(float64(st.CompletedSessions) / float64(st.TotalSessions) * 100))

	last := s.LastActivity
	st.LastActivity = &last

	for name, step := range s.Steps {
		if step.Completed {
			st.StepCompletionRates[name]++
		}
	}

	st.TotalProgress += s.Progress
	st.AverageProgress = int(math.Round(float64(st.TotalProgress) / float64(st.TotalSessions)))

	for _, e := range s.Errors {
		key := e.Step + ":" + e.Error
		st.CommonErrors[key]++
	}
}

// UserSummary is the per-user activity view.
type UserSummary struct {
	UserID             string     `json:"userId"`
	TotalSessions      int        `json:"totalSessions"`
	Stats              *UserStats `json:"stats"`
	RecentSessions     []*Session `json:"recentSessions"`
	IncompleteSessions []*Session `json:"incompleteSessions"`
}

// ErrorCount is one entry of the most-common-errors ranking.
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// OverallStats is the admin-facing aggregate across all sessions.
type OverallStats struct {
	TotalSessions       int                   `json:"totalSessions"`
	CompletedSessions   int                   `json:"completedSessions"`
	IncompleteSessions  int                   `json:"incompleteSessions"`
	InProgressSessions  int                   `json:"inProgressSessions"`
	SuccessRate         int                   `json:"successRate"`
	AverageDuration     int                   `json:"averageDuration"`
	StepCompletionRates map[string]int        `json:"stepCompletionRates"`
	MostCommonErrors    []ErrorCount          `json:"mostCommonErrors"`
	UserStats           map[string]*UserStats `json:"userStats"`
}
