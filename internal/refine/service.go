package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/rag"
	"github.com/hyperjump/promptforge/internal/session"
)

// Retriever finds similar stored prompts.
type Retriever interface {
	Similar(ctx context.Context, query, category string, k int) ([]models.Example, error)
}

// SessionStore is the part of session.Store the service writes to.
type SessionStore interface {
	CreateSession(ctx context.Context) (*session.Session, error)
	Exists(ctx context.Context, id string) (bool, error)
	Messages(ctx context.Context, sessionID string) ([]session.Message, error)
	SaveMessage(ctx context.Context, sessionID, role, content string) (*session.Message, error)
	SavePromptPair(ctx context.Context, sessionID, original, refined, category string) (*session.PromptPair, error)
}

// Request is one refinement.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt"`
	Category  string `json:"category"`
}

// Result is the model reply plus what it was built from.
type Result struct {
	SessionID  string           `json:"session_id"`
	Reply      string           `json:"reply"`
	Refinement Refinement       `json:"refinement"`
	Examples   []models.Example `json:"examples"`
}

// Service runs refinements and records them in a session.
type Service struct {
	retriever Retriever
	generator Generator
	sessions  SessionStore
	topK      int
	maxChars  int
	logger    *zap.Logger // optional
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithContextLimits sets how many examples are retrieved and the context size bound.
func WithContextLimits(topK, maxChars int) ServiceOption {
	return func(s *Service) {
		s.topK = topK
		s.maxChars = maxChars
	}
}

// NewService creates a refinement service.
func NewService(retriever Retriever, generator Generator, sessions SessionStore, opts ...ServiceOption) *Service {
	s := &Service{retriever: retriever, generator: generator, sessions: sessions, topK: rag.DefaultTopK}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refine retrieves examples for req.Category, asks the generator for an
// enhanced prompt and records the exchange. A new session is created when
// req.SessionID is empty. Retrieval failures degrade to an empty context.
func (s *Service) Refine(ctx context.Context, req Request) (*Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, models.ErrEmptyQuery
	}
	if strings.TrimSpace(req.Category) == "" {
		return nil, models.ErrEmptyCategory
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.sessions.CreateSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	} else if ok, err := s.sessions.Exists(ctx, sessionID); err != nil {
		return nil, err
	} else if !ok {
		return nil, session.ErrNotFound
	}

	examples, err := s.retriever.Similar(ctx, prompt, req.Category, s.topK)
	if err != nil {
		if errors.Is(err, models.ErrEmptyQuery) || errors.Is(err, models.ErrEmptyCategory) {
			return nil, err
		}
		if s.logger != nil {
			s.logger.Warn("retrieval failed, refining without examples", zap.Error(err))
		}
		examples = nil
	}

	history, err := s.sessions.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: session.RoleSystem, Content: SystemMessage})
	for _, m := range history {
		if m.Role == session.RoleSystem {
			continue
		}
		messages = append(messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ChatMessage{
		Role:    session.RoleUser,
		Content: BuildPrompt(prompt, req.Category, rag.Format(examples, s.maxChars)),
	})

	reply, err := s.generator.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refinement: %w", err)
	}

	if _, err := s.sessions.SaveMessage(ctx, sessionID, session.RoleUser, prompt); err != nil {
		return nil, err
	}
	if _, err := s.sessions.SaveMessage(ctx, sessionID, session.RoleAssistant, reply); err != nil {
		return nil, err
	}
	refinement, ok := ParseResponse(reply)
	refined := refinement.Prompt
	if !ok {
		refined = strings.TrimSpace(reply)
	}
	if _, err := s.sessions.SavePromptPair(ctx, sessionID, prompt, refined, req.Category); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("prompt refined",
			zap.String("session_id", sessionID),
			zap.String("category", req.Category),
			zap.Int("examples", len(examples)),
			zap.Bool("structured", ok))
	}
	return &Result{SessionID: sessionID, Reply: reply, Refinement: refinement, Examples: examples}, nil
}
