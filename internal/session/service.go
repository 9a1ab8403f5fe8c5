package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vmngo/livequiz/internal/code"
	"github.com/vmngo/livequiz/internal/domain"
	"github.com/vmngo/livequiz/internal/errors"
	"github.com/vmngo/livequiz/internal/event"
)

const (
	// Bounded attempts for optimistic record updates and for access code
	// allocation before the operation surfaces as unavailable.
	casAttempts  = 5
	codeAttempts = 5
)

// QuizResolver is the quiz store collaborator. Only resolution is needed here;
// authoring lives outside this service.
type QuizResolver interface {
	ResolveQuiz(ctx context.Context, quizID string) (*domain.Quiz, error)
}

type Config struct {
	Redis    redis.UniversalClient
	Quiz     QuizResolver
	EventBus *event.Bus
	Prefix   string
}

// Service owns the durable session record: lifecycle transitions, enrollment
// and the score ledger. Every mutation is an optimistic compare-and-update on
// the record document, so concurrent callers never lose updates.
type Service struct {
	rdb    redis.UniversalClient
	quiz   QuizResolver
	eb     *event.Bus
	prefix string
}

func NewService(c Config) *Service {
	return &Service{
		rdb:    c.Redis,
		quiz:   c.Quiz,
		eb:     c.EventBus,
		prefix: c.Prefix,
	}
}

func (s *Service) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *Service) codeKey(c string) string {
	return fmt.Sprintf("%s:code:%s", s.prefix, c)
}

type CreateSessionRequest struct {
	// HostID is the authenticated creator. Only the host may change the
	// session lifecycle later.
	HostID string
	QuizID string
}

// CreateSession creates a new open session for a quiz, with a fresh access
// code unique among non-closed sessions.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.HostID == "" {
		return nil, errors.Newf(errors.CodeInvalidArgument, "host id is required")
	}

	if _, err := s.quiz.ResolveQuiz(ctx, req.QuizID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	accessCode, err := s.allocateCode(ctx, id.String())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ss := &domain.Session{
		ID:        id.String(),
		HostID:    req.HostID,
		QuizID:    req.QuizID,
		Code:      accessCode,
		Status:    domain.StatusOpen,
		Scores:    []domain.ScoreEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(ss)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	if err := s.rdb.Set(ctx, s.sessionKey(ss.ID), data, 0).Err(); err != nil {
		// Best effort: free the code so it cannot point at a record that
		// was never written.
		s.rdb.Del(context.WithoutCancel(ctx), s.codeKey(accessCode))
		return nil, fmt.Errorf("store session: %w", err)
	}

	return ss, nil
}

// allocateCode reserves a fresh access code for the session. SETNX on the code
// index is the uniqueness check against other non-closed sessions.
func (s *Service) allocateCode(ctx context.Context, sessionID string) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		c, err := code.Generate()
		if err != nil {
			return "", err
		}

		ok, err := s.rdb.SetNX(ctx, s.codeKey(c), sessionID, 0).Result()
		if err != nil {
			return "", fmt.Errorf("reserve code: %w", err)
		}
		if ok {
			return c, nil
		}
	}

	return "", errors.Newf(errors.CodeUnavailable, "could not allocate a unique access code")
}

// GetSession loads a session record by id.
func (s *Service) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.Newf(errors.CodeNotFound, "session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var ss domain.Session
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &ss, nil
}

// GetSessionByCode loads the non-closed session owning an access code.
func (s *Service) GetSessionByCode(ctx context.Context, c string) (*domain.Session, error) {
	id, err := s.resolveCode(ctx, c)
	if err != nil {
		return nil, err
	}

	return s.GetSession(ctx, id)
}

func (s *Service) resolveCode(ctx context.Context, c string) (string, error) {
	id, err := s.rdb.Get(ctx, s.codeKey(c)).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", errors.Newf(errors.CodeNotFound, "session not found for code %s", c)
	}
	if err != nil {
		return "", fmt.Errorf("resolve code: %w", err)
	}

	return id, nil
}

// mutate applies fn to the session record under an optimistic transaction.
// A concurrent write to the same record aborts the transaction and the
// read-modify-write cycle is retried, so no update is ever lost and fn always
// observes a committed state.
func (s *Service) mutate(ctx context.Context, id string, fn func(ss *domain.Session) error) (*domain.Session, error) {
	key := s.sessionKey(id)

	for i := 0; i < casAttempts; i++ {
		var out *domain.Session

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			if stderrors.Is(err, redis.Nil) {
				return errors.Newf(errors.CodeNotFound, "session not found: %s", id)
			}
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}

			var ss domain.Session
			if err := json.Unmarshal([]byte(raw), &ss); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}

			if err := fn(&ss); err != nil {
				return err
			}
			ss.UpdatedAt = time.Now().UTC()

			data, err := json.Marshal(&ss)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, data, 0)
				if ss.Status == domain.StatusClosed {
					// A closed session no longer owns its code.
					p.Del(ctx, s.codeKey(ss.Code))
				}
				return nil
			})
			if err != nil {
				return err
			}

			out = &ss
			return nil
		}, key)

		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return out, nil
	}

	return nil, errors.Newf(errors.CodeUnavailable, "session %s: too many conflicting updates", id)
}

type TransitionRequest struct {
	SessionID string
	CallerID  string
	Status    domain.Status
}

// Transition moves the session to a new lifecycle status. Host only, and only
// forward along open -> playing -> closed.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*domain.Session, error) {
	ss, err := s.mutate(ctx, req.SessionID, func(ss *domain.Session) error {
		if err := RequireHost(ss, req.CallerID); err != nil {
			return err
		}

		if !ss.Status.CanTransitionTo(req.Status) {
			return errors.Newf(errors.CodeFailedPrecondition,
				"illegal transition %s -> %s", ss.Status, req.Status)
		}

		ss.Status = req.Status
		if req.Status == domain.StatusPlaying {
			ss.CurrentQuestion = 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventSessionStatusChanged{Session: *ss})

	return ss, nil
}

type EnrollRequest struct {
	Code          string
	ParticipantID string
}

// Enroll adds the participant to the score ledger of the open session owning
// the access code, with a starting total of zero.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*domain.Session, error) {
	id, err := s.resolveCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, func(ss *domain.Session) error {
		if ss.Status != domain.StatusOpen {
			return errors.Newf(errors.CodeFailedPrecondition,
				"session with code %s is not open", req.Code)
		}

		if ss.ScoreIndex(req.ParticipantID) >= 0 {
			return errors.Newf(errors.CodeAlreadyExists,
				"participant %s is already in this session", req.ParticipantID)
		}

		ss.Scores = append(ss.Scores, domain.ScoreEntry{
			ParticipantID: req.ParticipantID,
			TotalScore:    decimal.Zero,
		})
		return nil
	})
}

type ApplyScoreDeltaRequest struct {
	Code          string
	ParticipantID string
	Delta         decimal.Decimal
}

// ApplyScoreDelta adds a non-negative delta to the participant's total while
// the session is playing, and returns the new total. Deltas for the same
// participant are serialized by the record's compare-and-update, so concurrent
// submissions all land.
func (s *Service) ApplyScoreDelta(ctx context.Context, req ApplyScoreDeltaRequest) (decimal.Decimal, error) {
	if req.Delta.IsNegative() {
		return decimal.Zero, errors.Newf(errors.CodeInvalidArgument,
			"score delta must not be negative, got %s", req.Delta)
	}

	id, err := s.resolveCode(ctx, req.Code)
	if err != nil {
		return decimal.Zero, err
	}

	var total decimal.Decimal
	ss, err := s.mutate(ctx, id, func(ss *domain.Session) error {
		if ss.Status != domain.StatusPlaying {
			return errors.Newf(errors.CodeFailedPrecondition,
				"session with code %s is not playing", req.Code)
		}

		if err := RequireEnrolled(ss, req.ParticipantID); err != nil {
			return err
		}

		i := ss.ScoreIndex(req.ParticipantID)
		ss.Scores[i].TotalScore = ss.Scores[i].TotalScore.Add(req.Delta)
		total = ss.Scores[i].TotalScore
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{Score: domain.Score{
		SessionID:     ss.ID,
		Code:          ss.Code,
		ParticipantID: req.ParticipantID,
		TotalScore:    total,
		UpdateTime:    ss.UpdatedAt,
	}})

	return total, nil
}

type AdvanceQuestionRequest struct {
	SessionID string
	CallerID  string
}

// AdvanceQuestion moves the session to the next question. Host only, and only
// while the session is playing.
func (s *Service) AdvanceQuestion(ctx context.Context, req AdvanceQuestionRequest) (*domain.Session, error) {
	ss, err := s.mutate(ctx, req.SessionID, func(ss *domain.Session) error {
		if err := RequireHost(ss, req.CallerID); err != nil {
			return err
		}

		if ss.Status != domain.StatusPlaying {
			return errors.Newf(errors.CodeFailedPrecondition,
				"session %s is not playing", req.SessionID)
		}

		ss.CurrentQuestion++
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventQuestionAdvanced{Session: *ss})

	return ss, nil
}
