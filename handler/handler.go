package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"piggybank/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Asker interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
}

type askRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type askResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler adapts API Gateway proxy events to the conversation use case.
type Handler struct {
	uc Asker
}

func NewHandler(uc Asker) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := header(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := slog.With("correlation_id", corrID)

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return respondError(corrID, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput), nil
	}

	token, ok := bearerToken(header(req.Headers, "Authorization"))
	if !ok {
		log.Warn("request rejected", "reason", "missing_bearer_token")
		return respondError(corrID, http.StatusUnauthorized, usecase.ErrorUnauthorized), nil
	}

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			log.Warn("request rejected", "reason", "invalid_base64_body", "err", err)
			return respondError(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput), nil
		}
		body = string(decoded)
	}

	var in askRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		log.Warn("request rejected", "reason", "invalid_json_body", "err", err)
		return respondError(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput), nil
	}

	out, err := h.uc.Ask(ctx, usecase.AskInput{
		Token:     token,
		Query:     in.Query,
		SessionID: in.SessionID,
	})
	if err != nil {
		code, reason := classify(err)
		status := statusFor(code)
		if status >= http.StatusInternalServerError {
			log.Error("ask failed", "code", code, "reason", reason, "err", err)
		} else {
			log.Warn("ask rejected", "code", code, "reason", reason)
		}
		return respondError(corrID, status, code), nil
	}

	log.Info("ask completed", "session_id", out.SessionID)
	return respond(corrID, http.StatusOK, askResponse{Response: out.Answer, SessionID: out.SessionID}), nil
}

func classify(err error) (usecase.ErrorCode, string) {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		return ue.Code, ue.Reason
	}
	return usecase.ErrorInternal, "unexpected_error"
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(corrID string, status int, code usecase.ErrorCode) events.APIGatewayProxyResponse {
	return respond(corrID, status, errorResponse{Error: string(code), Message: code.UserMessage()})
}

func respond(corrID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

// header looks up a header case-insensitively; API Gateway preserves the
// client's casing.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
