package quiz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmngo/livequiz/internal/domain"
	"github.com/vmngo/livequiz/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Service reads quiz content from the quiz store. Authoring of quizzes and
// questions happens elsewhere; this service only resolves content for play.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// ResolveQuiz loads a quiz and its questions by id.
func (s *Service) ResolveQuiz(ctx context.Context, quizID string) (*domain.Quiz, error) {
	const quizStmt = `SELECT quiz_id, owner_id, title FROM quizzes WHERE quiz_id = $1;`

	var q domain.Quiz
	err := s.db.QueryRow(ctx, quizStmt, quizID).Scan(&q.QuizID, &q.OwnerID, &q.Title)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", quizID),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("select quiz: %w", err)
	}

	const questionStmt = `
SELECT question_id, question_type, question_text, COALESCE(options, '[]'), COALESCE(answer, '')
FROM questions
WHERE quiz_id = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, questionStmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}

	q.Questions, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var (
			question domain.Question
			options  []byte
		)
		if err := r.Scan(&question.QuestionID, &question.Type, &question.Text, &options, &question.Answer); err != nil {
			return domain.Question{}, err
		}
		if err := json.Unmarshal(options, &question.Options); err != nil {
			return domain.Question{}, fmt.Errorf("decode options: %w", err)
		}
		return question, nil
	})
	if err != nil {
		return nil, err
	}

	return &q, nil
}
