package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle phase of a game session.
// Transitions are monotonic: open -> playing -> closed. A host may also close
// an open session directly without ever playing it.
type Status string

const (
	StatusOpen    Status = "open"
	StatusPlaying Status = "playing"
	StatusClosed  Status = "closed"
)

// ParseStatus resolves a wire value to a Status, case-insensitively.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen, true
	case StatusPlaying:
		return StatusPlaying, true
	case StatusClosed:
		return StatusClosed, true
	}
	return "", false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusOpen:
		return next == StatusPlaying || next == StatusClosed
	case StatusPlaying:
		return next == StatusClosed
	}
	return false
}

// ScoreEntry is one participant's ledger row within a session.
// Entries are ordered by join time and unique per participant.
type ScoreEntry struct {
	ParticipantID string          `json:"participant_id"`
	TotalScore    decimal.Decimal `json:"total_score"`
}

// Session is the durable record of one hosted quiz run.
type Session struct {
	ID              string       `json:"id"`
	HostID          string       `json:"host_id"`
	QuizID          string       `json:"quiz_id"`
	Code            string       `json:"code"`
	Status          Status       `json:"status"`
	CurrentQuestion int          `json:"current_question"`
	Scores          []ScoreEntry `json:"scores"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ScoreIndex returns the position of the participant's ledger entry, or -1.
func (s *Session) ScoreIndex(participantID string) int {
	for i, e := range s.Scores {
		if e.ParticipantID == participantID {
			return i
		}
	}
	return -1
}

// Score is a snapshot of one participant's total after an applied delta.
type Score struct {
	SessionID     string
	Code          string
	ParticipantID string
	TotalScore    decimal.Decimal
	UpdateTime    time.Time
}

// QuestionType enumerates the question formats a quiz may carry.
type QuestionType string

const (
	QuestionTypeMulti  QuestionType = "Multi-Choice"
	QuestionTypeFree   QuestionType = "Free-Response"
	QuestionTypeMatrix QuestionType = "Matrix"
)

// Quiz is the content played during a session, resolved from the quiz store.
type Quiz struct {
	QuizID    string     `json:"quiz_id"`
	OwnerID   string     `json:"owner_id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

type Question struct {
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
	Text       string       `json:"text"`
	Options    []Option     `json:"options,omitempty"`
	Answer     string       `json:"answer,omitempty"`
}

type Option struct {
	OptionText string `json:"option_text"`
	Correct    bool   `json:"correct"`
}
