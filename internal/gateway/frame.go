package gateway

import (
	"encoding/json"
	"log/slog"

	"github.com/vmngo/livequiz/internal/domain"
	"github.com/vmngo/livequiz/internal/errors"
)

// Inbound frame types.
const (
	frameCreateLobby = "create_lobby"
	frameJoinLobby   = "join_lobby"
	frameStartQuiz   = "start_quiz"
	frameLeaveLobby  = "leave_lobby"
)

// Outbound frame types.
const (
	frameLobbyCreated     = "lobby_created"
	frameLobbyUpdate      = "lobby_update"
	frameQuizStarted      = "quiz_started"
	frameQuestionAdvanced = "question_advanced"
	frameSessionClosed    = "session_closed"
	frameError            = "error"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newFrame(frameType string, payload any) frame {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are all local structs; a marshal failure is a bug.
		slog.Error("gateway: marshal frame payload", "type", frameType, "error", err)
	}
	return frame{Type: frameType, Payload: data}
}

type createLobbyPayload struct {
	Code string `json:"code,omitempty"`
}

type joinLobbyPayload struct {
	Code string `json:"code"`
}

type startQuizPayload struct {
	Code   string `json:"code"`
	QuizID string `json:"quiz_id"`
}

type lobbyCreatedPayload struct {
	Code string `json:"code"`
}

type lobbyUpdatePayload struct {
	Code         string   `json:"code"`
	Participants []string `json:"participants"`
}

type quizStartedPayload struct {
	Code   string       `json:"code"`
	QuizID string       `json:"quiz_id"`
	HostID string       `json:"host_id"`
	Quiz   *domain.Quiz `json:"quiz"`
}

type questionAdvancedPayload struct {
	Code            string `json:"code"`
	CurrentQuestion int    `json:"current_question"`
}

type sessionClosedPayload struct {
	Code string `json:"code"`
}

type errorPayload struct {
	Error *errors.Error `json:"error"`
}
