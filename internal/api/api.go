package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vmngo/livequiz/internal/auth"
	"github.com/vmngo/livequiz/internal/domain"
	"github.com/vmngo/livequiz/internal/errors"
	"github.com/vmngo/livequiz/internal/event"
	"github.com/vmngo/livequiz/internal/session"
)

type Config struct {
	Router       gin.IRouter
	Session      *session.Service
	EventBus     *event.Bus
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	sessions *session.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		sessions: c.Session,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// HTTP APIs
	c.Router.POST("/sessions", a.createSession)
	c.Router.GET("/sessions/:id", a.getSession)
	c.Router.PATCH("/sessions/:id", a.transitionSession)
	c.Router.PATCH("/sessions/:id/question", a.advanceQuestion)
	c.Router.PATCH("/lobby/:code/enroll", a.enroll)
	c.Router.PATCH("/lobby/:code/score", a.applyScore)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishScoreUpdated(ctx, e.(domain.EventScoreUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameSessionStatusChanged, func(ctx context.Context, e event.Event) error {
		return a.PublishStatusChanged(ctx, e.(domain.EventSessionStatusChanged))
	})

	return a
}

func callerID(c *gin.Context) (string, error) {
	id, ok := auth.CallerID(c.Request.Context())
	if !ok || id == "" {
		return "", errors.Newf(errors.CodeUnauthenticated, "caller identity is missing")
	}
	return id, nil
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"error": e})
}

type createSessionRequest struct {
	QuizID string `json:"quiz_id" binding:"required"`
}

func (a *API) createSession(c *gin.Context) {
	caller, err := callerID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz_id is required"),
			errors.WithCause(err)))
		return
	}

	ss, err := a.sessions.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		HostID: caller,
		QuizID: req.QuizID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, ss)
}

func (a *API) getSession(c *gin.Context) {
	if _, err := callerID(c); err != nil {
		abortWithError(c, err)
		return
	}

	ss, err := a.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, ss)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
}

func (a *API) transitionSession(c *gin.Context) {
	caller, err := callerID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("status is required"),
			errors.WithCause(err)))
		return
	}

	status, ok := domain.ParseStatus(req.Status)
	if !ok {
		abortWithError(c, errors.Newf(errors.CodeInvalidArgument,
			"%s is not a valid session status", req.Status))
		return
	}

	ss, err := a.sessions.Transition(c.Request.Context(), session.TransitionRequest{
		SessionID: c.Param("id"),
		CallerID:  caller,
		Status:    status,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, ss)
}

func (a *API) advanceQuestion(c *gin.Context) {
	caller, err := callerID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ss, err := a.sessions.AdvanceQuestion(c.Request.Context(), session.AdvanceQuestionRequest{
		SessionID: c.Param("id"),
		CallerID:  caller,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, ss)
}

// enrolledSession is the session record as shown to a joining participant.
// The internal record id stays hidden from non-host callers.
type enrolledSession struct {
	HostID          string              `json:"host_id"`
	QuizID          string              `json:"quiz_id"`
	Code            string              `json:"code"`
	Status          domain.Status       `json:"status"`
	CurrentQuestion int                 `json:"current_question"`
	Scores          []domain.ScoreEntry `json:"scores"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (a *API) enroll(c *gin.Context) {
	caller, err := callerID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ss, err := a.sessions.Enroll(c.Request.Context(), session.EnrollRequest{
		Code:          c.Param("code"),
		ParticipantID: caller,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, enrolledSession{
		HostID:          ss.HostID,
		QuizID:          ss.QuizID,
		Code:            ss.Code,
		Status:          ss.Status,
		CurrentQuestion: ss.CurrentQuestion,
		Scores:          ss.Scores,
		CreatedAt:       ss.CreatedAt,
		UpdatedAt:       ss.UpdatedAt,
	})
}

type applyScoreRequest struct {
	ParticipantID string          `json:"participant_id" binding:"required"`
	Score         decimal.Decimal `json:"score"`
}

type applyScoreResponse struct {
	TotalScore decimal.Decimal `json:"total_score"`
}

func (a *API) applyScore(c *gin.Context) {
	caller, err := callerID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req applyScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("score is missing or not a number"),
			errors.WithCause(err)))
		return
	}

	// Scores may only be submitted for the authenticated caller itself.
	if req.ParticipantID != caller {
		abortWithError(c, errors.Newf(errors.CodePermissionDenied,
			"cannot submit a score for another participant"))
		return
	}

	total, err := a.sessions.ApplyScoreDelta(c.Request.Context(), session.ApplyScoreDeltaRequest{
		Code:          c.Param("code"),
		ParticipantID: caller,
		Delta:         req.Score,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Only the caller's own total goes back; the full ledger would leak the
	// other participants' identities.
	c.JSON(200, applyScoreResponse{TotalScore: total})
}
