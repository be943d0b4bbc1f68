package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"piggybank/internal/domain"
	"piggybank/internal/ledger"
	"piggybank/internal/session"
)

const (
	defaultMaxQuestion   = 500
	defaultMaxToolRounds = 5
)

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, tools []domain.ToolDefinition) (domain.ChatMessage, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Subscription, error)
}

type SessionStore interface {
	Create(ctx context.Context, subscriptionID int64) (domain.Session, error)
	GetOrCreate(ctx context.Context, subscriptionID int64, id string) (domain.Session, error)
	AppendMessage(ctx context.Context, subscriptionID int64, id string, msgs ...domain.ChatMessage) (domain.Session, error)
}

type ToolRunner interface {
	Definitions() []domain.ToolDefinition
	Call(ctx context.Context, subscriptionID int64, call domain.ToolCall) domain.ChatMessage
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Options struct {
	ParamPrefix    string
	MaxQuestionLen int
	MaxToolRounds  int
}

type AskService struct {
	params   ParamGetter
	llm      LLMClient
	auth     Authenticator
	sessions SessionStore
	tools    ToolRunner

	paramPrefix    string
	maxQuestionLen int
	maxToolRounds  int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	openaiModel  string
}

type AskInput struct {
	Token     string
	Query     string
	SessionID string
}

type AskOutput struct {
	Answer    string
	SessionID string
}

func NewAskService(p ParamGetter, llm LLMClient, auth Authenticator, sessions SessionStore, tools ToolRunner, opts Options) (*AskService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if auth == nil {
		return nil, errors.New("usecase: authenticator must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if tools == nil {
		return nil, errors.New("usecase: tool runner must not be nil")
	}
	prefix := strings.TrimRight(strings.TrimSpace(opts.ParamPrefix), "/")
	if prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if opts.MaxQuestionLen <= 0 {
		opts.MaxQuestionLen = defaultMaxQuestion
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	return &AskService{
		params:         p,
		llm:            llm,
		auth:           auth,
		sessions:       sessions,
		tools:          tools,
		paramPrefix:    prefix,
		maxQuestionLen: opts.MaxQuestionLen,
		maxToolRounds:  opts.MaxToolRounds,
	}, nil
}

func (s *AskService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if len([]rune(query)) > s.maxQuestionLen {
		return AskOutput{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}

	sub, err := s.auth.Authenticate(ctx, strings.TrimSpace(in.Token))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return AskOutput{}, newError(ErrorUnauthorized, "unknown_token", nil)
		}
		return AskOutput{}, newError(ErrorInternal, "subscription_lookup_error", err)
	}

	if err := s.ensureConfig(ctx); err != nil {
		return AskOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	flagged, err := s.llm.Moderate(ctx, query)
	if err != nil {
		return AskOutput{}, upstreamError("moderation", err)
	}
	if flagged {
		return AskOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
	}

	sess, err := s.openSession(ctx, sub.ID, strings.TrimSpace(in.SessionID))
	if err != nil {
		return AskOutput{}, newError(ErrorInternal, "session_load_error", err)
	}

	userMsg := domain.ChatMessage{Role: domain.RoleUser, Content: query}
	sess, err = s.sessions.AppendMessage(ctx, sub.ID, sess.ID, userMsg)
	if errors.Is(err, session.ErrNotFound) {
		// Expired between lookup and append; continue in a fresh session.
		if sess, err = s.sessions.Create(ctx, sub.ID); err == nil {
			sess, err = s.sessions.AppendMessage(ctx, sub.ID, sess.ID, userMsg)
		}
	}
	if err != nil {
		return AskOutput{}, newError(ErrorInternal, "session_write_error", err)
	}

	answer, err := s.converse(ctx, sub.ID, buildTranscript(s.prompt(), sess.Messages))
	if err != nil {
		return AskOutput{}, err
	}

	reply := domain.ChatMessage{Role: domain.RoleAssistant, Content: answer}
	if _, err := s.sessions.AppendMessage(ctx, sub.ID, sess.ID, reply); err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			return AskOutput{}, newError(ErrorInternal, "session_write_error", err)
		}
		slog.Warn("session expired before reply was saved", "session_id", sess.ID, "subscription_id", sub.ID)
	}

	return AskOutput{Answer: answer, SessionID: sess.ID}, nil
}

func (s *AskService) openSession(ctx context.Context, subscriptionID int64, id string) (domain.Session, error) {
	sess, err := s.sessions.GetOrCreate(ctx, subscriptionID, id)
	if errors.Is(err, session.ErrNotFound) {
		slog.Info("session not active, starting a new one", "session_id", id, "subscription_id", subscriptionID)
		return s.sessions.Create(ctx, subscriptionID)
	}
	return sess, err
}

// converse runs the model/tool loop on an in-flight transcript. Tool
// exchanges are not persisted; only the final answer is.
func (s *AskService) converse(ctx context.Context, subscriptionID int64, transcript []domain.ChatMessage) (string, error) {
	model := s.model()
	defs := s.tools.Definitions()
	for round := 0; ; round++ {
		tools := defs
		if round >= s.maxToolRounds {
			// Out of rounds: ask for a plain answer.
			tools = nil
		}
		reply, err := s.llm.Chat(ctx, model, transcript, tools)
		if err != nil {
			return "", upstreamError("openai", err)
		}
		if len(reply.ToolCalls) == 0 || tools == nil {
			answer := strings.TrimSpace(reply.Content)
			if answer == "" {
				return "", newError(ErrorUpstream, "openai_empty_answer", nil)
			}
			return answer, nil
		}

		transcript = append(transcript, reply)
		for _, call := range reply.ToolCalls {
			transcript = append(transcript, s.tools.Call(ctx, subscriptionID, call))
		}
	}
}

func (s *AskService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	modelParam := s.paramPrefix + "/config/openai_model"
	promptParam := s.paramPrefix + "/system_prompt"
	values, err := s.params.GetParameters(ctx, modelParam, promptParam)
	if err != nil {
		return fmt.Errorf("usecase: load parameters: %w", err)
	}
	model := strings.TrimSpace(values[modelParam])
	if model == "" {
		return errors.New("usecase: openai model parameter is empty")
	}

	s.openaiModel = model
	s.systemPrompt = values[promptParam]
	s.cacheLoaded = true
	return nil
}

func (s *AskService) model() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.openaiModel
}

func (s *AskService) prompt() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.systemPrompt
}

func upstreamError(source string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, source+"_rate_limited", err)
	}
	return newError(ErrorUpstream, source+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
