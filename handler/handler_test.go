package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"piggybank/internal/usecase"
)

type stubUseCase struct {
	out    usecase.AskOutput
	err    error
	in     usecase.AskInput
	called bool
}

func (s *stubUseCase) Ask(_ context.Context, in usecase.AskInput) (usecase.AskOutput, error) {
	s.in = in
	s.called = true
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/agent",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer tok-123",
		},
		Body: body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubUseCase{out: usecase.AskOutput{Answer: "Savings has $50.00.", SessionID: "sess-1"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"How much is in savings?","session_id":"sess-1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.AskInput{Token: "tok-123", Query: "How much is in savings?", SessionID: "sess-1"}, uc.in)

	out := parseBody[askResponse](t, resp.Body)
	require.Equal(t, "Savings has $50.00.", out.Response)
	require.Equal(t, "sess-1", out.SessionID)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_Base64Body(t *testing.T) {
	uc := &stubUseCase{out: usecase.AskOutput{Answer: "ok", SessionID: "s"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"query":"hi"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", uc.in.Query)
}

func TestHandle_RejectsBeforeUseCase(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*events.APIGatewayProxyRequest)
		status int
		code   usecase.ErrorCode
	}{
		{"invalid json", func(e *events.APIGatewayProxyRequest) { e.Body = "not-json" }, http.StatusBadRequest, usecase.ErrorInvalidInput},
		{"bad base64", func(e *events.APIGatewayProxyRequest) { e.Body, e.IsBase64Encoded = "%%%", true }, http.StatusBadRequest, usecase.ErrorInvalidInput},
		{"missing auth", func(e *events.APIGatewayProxyRequest) { delete(e.Headers, "Authorization") }, http.StatusUnauthorized, usecase.ErrorUnauthorized},
		{"wrong scheme", func(e *events.APIGatewayProxyRequest) { e.Headers["Authorization"] = "Basic abc" }, http.StatusUnauthorized, usecase.ErrorUnauthorized},
		{"empty bearer", func(e *events.APIGatewayProxyRequest) { e.Headers["Authorization"] = "Bearer   " }, http.StatusUnauthorized, usecase.ErrorUnauthorized},
		{"wrong method", func(e *events.APIGatewayProxyRequest) { e.HTTPMethod = http.MethodGet }, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{}
			h, err := NewHandler(uc)
			require.NoError(t, err)

			event := makeEvent(`{"query":"hi"}`)
			tc.mutate(&event)
			resp, err := h.Handle(context.Background(), event)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.False(t, uc.called)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, string(tc.code), out.Error)
			require.Equal(t, tc.code.UserMessage(), out.Message)
		})
	}
}

func TestHandle_LowercaseAuthorizationHeader(t *testing.T) {
	uc := &stubUseCase{out: usecase.AskOutput{Answer: "ok"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`{"query":"hi"}`)
	delete(event.Headers, "Authorization")
	event.Headers["authorization"] = "bearer tok-lower"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "tok-lower", uc.in.Token)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   usecase.ErrorCode
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_query"}, status: http.StatusBadRequest, code: usecase.ErrorInvalidInput},
		{name: "unauthorized", err: &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "unknown_token"}, status: http.StatusUnauthorized, code: usecase.ErrorUnauthorized},
		{name: "invalid question", err: &usecase.Error{Code: usecase.ErrorInvalidQuestion, Reason: "moderation_flagged"}, status: http.StatusBadRequest, code: usecase.ErrorInvalidQuestion},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "openai_rate_limited"}, status: http.StatusTooManyRequests, code: usecase.ErrorRateLimited},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "openai_error"}, status: http.StatusBadGateway, code: usecase.ErrorUpstream},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "session_write_error"}, status: http.StatusInternalServerError, code: usecase.ErrorInternal},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: usecase.ErrorInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{err: tc.err}
			h, err := NewHandler(uc)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"query":"Put $5 in savings"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, string(tc.code), out.Error)
			require.Equal(t, tc.code.UserMessage(), out.Message)
			require.NotContains(t, resp.Body, "boom")
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{out: usecase.AskOutput{Answer: "ok", SessionID: "sess-1"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`{"query":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
