package domain

const (
	EventNameSessionStatusChanged = "session.status_changed"
	EventNameQuestionAdvanced     = "session.question_advanced"
	EventNameScoreUpdated         = "score.updated"
)

type EventSessionStatusChanged struct {
	Session Session
}

func (EventSessionStatusChanged) Name() string { return EventNameSessionStatusChanged }

type EventQuestionAdvanced struct {
	Session Session
}

func (EventQuestionAdvanced) Name() string { return EventNameQuestionAdvanced }

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }
