// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

type fakeNetError struct{ msg string }

func (e *fakeNetError) Error() string   { return e.msg }
func (e *fakeNetError) Timeout() bool   { return true }
func (e *fakeNetError) Temporary() bool { return true }

func TestTransientProbe(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"net error", &fakeNetError{msg: "read tcp: broken pipe"}, true},
		{"connection refused text", errors.New("dial tcp 127.0.0.1:8080: connection refused"), true},
		{"no such host text", errors.New("lookup llm.internal: no such host"), true},
		{"io timeout text", errors.New("read: i/o timeout"), true},
		{"permanent", errors.New("invalid model"), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := transientProbe(tc.err); got != tc.want {
				t.Errorf("transientProbe(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapHelpers(t *testing.T) {
	err := wrapTransient("openai", errors.New("boom"))
	if !errors.Is(err, agent.ErrProviderTransient) {
		t.Errorf("wrapTransient result not ErrProviderTransient: %v", err)
	}
	if agent.KindOf(err) != agent.KindProviderTransient {
		t.Errorf("KindOf(%v) = %v, want provider_transient", err, agent.KindOf(err))
	}

	err = wrapEmpty("langchain")
	if !errors.Is(err, agent.ErrProviderParseEmpty) {
		t.Errorf("wrapEmpty result not ErrProviderParseEmpty: %v", err)
	}
}

func TestOpenAIClassify(t *testing.T) {
	p, err := NewOpenAIProvider("test-key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	cases := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}, false},
		{"auth failure", &openai.APIError{HTTPStatusCode: 401, Message: "invalid key"}, false},
		{"network", errors.New("dial tcp: connection refused"), true},
		{"permanent", errors.New("malformed response"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.classify(tc.err)
			if errors.Is(got, agent.ErrProviderTransient) != tc.wantTransient {
				t.Errorf("classify(%v) transient = %v, want %v", tc.err, !tc.wantTransient, tc.wantTransient)
			}
		})
	}
}

func TestNewOpenAIProviderDefaultsModel(t *testing.T) {
	p, err := NewOpenAIProvider("test-key", "")
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if got := p.Model(); got != defaultOpenAIModel {
		t.Errorf("Model() = %q, want %q", got, defaultOpenAIModel)
	}
	if got := p.ContextWindowTokens(); got != 0 {
		t.Errorf("ContextWindowTokens() = %d, want 0 when undeclared", got)
	}
}

func TestNewOpenAIProviderContextWindow(t *testing.T) {
	p, err := NewOpenAIProvider("test-key", "gpt-4o", WithContextWindow(128000))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if got := p.ContextWindowTokens(); got != 128000 {
		t.Errorf("ContextWindowTokens() = %d, want 128000", got)
	}
}

func TestOpenAIRole(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"system", openai.ChatMessageRoleSystem},
		{"assistant", openai.ChatMessageRoleAssistant},
		{"user", openai.ChatMessageRoleUser},
		{"tool", openai.ChatMessageRoleUser},
	}
	for _, tc := range cases {
		if got := openaiRole(tc.in); got != tc.want {
			t.Errorf("openaiRole(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// stubDoer serves a canned chat-completion response and captures the last
// request body for assertions.
type stubDoer struct {
	status  int
	body    string
	lastReq []byte
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		d.lastReq, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: d.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(d.body)),
	}, nil
}

func toolTestProvider(t *testing.T, doer *stubDoer) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider("test-key", "gpt-4o-mini", WithHTTPDoer(doer))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return p
}

func TestOpenAIGenerateWithTools(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusOK,
		body: `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant",` +
			`"tool_calls":[{"id":"call_1","type":"function","function":` +
			`{"name":"record_findings","arguments":"{\"findings\":[{\"quote\":\"q1\"}]}"}}]}}]}`,
	}
	p := toolTestProvider(t, doer)

	schema := agent.ToolSchema{
		Name:        "record_findings",
		Description: "Record extracted findings",
		InputSchema: map[string]any{"type": "object"},
	}
	args, err := p.GenerateWithTools(context.Background(),
		[]agent.Message{{Role: "user", Content: "extract"}},
		[]agent.ToolSchema{schema}, "system prompt")
	if err != nil {
		t.Fatalf("GenerateWithTools: %v", err)
	}
	if _, ok := args["findings"]; !ok {
		t.Fatalf("args = %v, want findings key", args)
	}

	// The request must carry the function definition and force the call.
	var req map[string]any
	if err := json.Unmarshal(doer.lastReq, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	tools, ok := req["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("request tools = %v, want exactly one", req["tools"])
	}
	choice, ok := req["tool_choice"].(map[string]any)
	if !ok || choice["type"] != "function" {
		t.Fatalf("tool_choice = %v, want forced function call", req["tool_choice"])
	}
}

func TestOpenAIGenerateWithToolsAnswersInProse(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusOK,
		body:   `{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"prose answer"}}]}`,
	}
	p := toolTestProvider(t, doer)

	_, err := p.GenerateWithTools(context.Background(), nil,
		[]agent.ToolSchema{{Name: "record_findings"}}, "")
	if !errors.Is(err, agent.ErrProviderParseEmpty) {
		t.Fatalf("error = %v, want ErrProviderParseEmpty", err)
	}
}

func TestOpenAIGenerateWithToolsMalformedArguments(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusOK,
		body: `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant",` +
			`"tool_calls":[{"id":"call_1","type":"function","function":` +
			`{"name":"record_findings","arguments":"not json"}}]}}]}`,
	}
	p := toolTestProvider(t, doer)

	_, err := p.GenerateWithTools(context.Background(), nil,
		[]agent.ToolSchema{{Name: "record_findings"}}, "")
	if err == nil || !strings.Contains(err.Error(), "decode tool arguments") {
		t.Fatalf("error = %v, want argument decode failure", err)
	}
	if errors.Is(err, agent.ErrProviderTransient) {
		t.Fatal("malformed arguments must not be classified transient")
	}
}

func TestOpenAIGenerateWithToolsRateLimited(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusTooManyRequests,
		body:   `{"error":{"message":"rate limited","type":"rate_limit_exceeded"}}`,
	}
	p := toolTestProvider(t, doer)

	_, err := p.GenerateWithTools(context.Background(), nil,
		[]agent.ToolSchema{{Name: "record_findings"}}, "")
	if !errors.Is(err, agent.ErrProviderTransient) {
		t.Fatalf("error = %v, want ErrProviderTransient", err)
	}
}

func TestOpenAIGenerateWithToolsRequiresTools(t *testing.T) {
	p := toolTestProvider(t, &stubDoer{status: http.StatusOK, body: `{}`})

	if _, err := p.GenerateWithTools(context.Background(), nil, nil, ""); err == nil {
		t.Fatal("expected an error for an empty tool list")
	}
}

// fakeModel scripts langchaingo responses.
type fakeModel struct {
	lastMessages []llms.MessageContent
	resp         *llms.ContentResponse
	err          error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.lastMessages = messages
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func TestNewLangChainProviderRequiresModel(t *testing.T) {
	if _, err := NewLangChainProvider(nil, "qwen3:32b"); !errors.Is(err, agent.ErrNilProvider) {
		t.Fatalf("error = %v, want ErrNilProvider", err)
	}
}

func TestLangChainGenerate(t *testing.T) {
	model := &fakeModel{
		resp: &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{Content: "answer text"}},
		},
	}
	p, err := NewLangChainProvider(model, "qwen3:32b", WithLangChainContextWindow(32768))
	if err != nil {
		t.Fatalf("NewLangChainProvider: %v", err)
	}

	messages := []agent.Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "draft"},
	}
	text, err := p.Generate(context.Background(), messages, "be thorough", 2000, 0.2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "answer text" {
		t.Errorf("text = %q, want %q", text, "answer text")
	}

	// System prompt first, then the conversation in order.
	if len(model.lastMessages) != 3 {
		t.Fatalf("forwarded messages = %d, want 3", len(model.lastMessages))
	}
	if model.lastMessages[0].Role != llms.ChatMessageTypeSystem {
		t.Errorf("first role = %v, want system", model.lastMessages[0].Role)
	}
	if model.lastMessages[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("second role = %v, want human", model.lastMessages[1].Role)
	}
	if model.lastMessages[2].Role != llms.ChatMessageTypeAI {
		t.Errorf("third role = %v, want ai", model.lastMessages[2].Role)
	}

	if got := p.Model(); got != "qwen3:32b" {
		t.Errorf("Model() = %q, want %q", got, "qwen3:32b")
	}
	if got := p.ContextWindowTokens(); got != 32768 {
		t.Errorf("ContextWindowTokens() = %d, want 32768", got)
	}
}

func TestLangChainGenerateEmptyResponse(t *testing.T) {
	p, err := NewLangChainProvider(&fakeModel{resp: &llms.ContentResponse{}}, "qwen3:32b")
	if err != nil {
		t.Fatalf("NewLangChainProvider: %v", err)
	}
	_, err = p.Generate(context.Background(), []agent.Message{{Role: "user", Content: "q"}}, "", 0, 0)
	if !errors.Is(err, agent.ErrProviderParseEmpty) {
		t.Fatalf("error = %v, want ErrProviderParseEmpty", err)
	}
}

func TestLangChainGenerateTransient(t *testing.T) {
	p, err := NewLangChainProvider(&fakeModel{err: errors.New("dial tcp 127.0.0.1:11434: connection refused")}, "qwen3:32b")
	if err != nil {
		t.Fatalf("NewLangChainProvider: %v", err)
	}
	_, err = p.Generate(context.Background(), []agent.Message{{Role: "user", Content: "q"}}, "", 0, 0)
	if !errors.Is(err, agent.ErrProviderTransient) {
		t.Fatalf("error = %v, want ErrProviderTransient", err)
	}
}

func TestLangChainRole(t *testing.T) {
	cases := []struct {
		in   string
		want llms.ChatMessageType
	}{
		{"system", llms.ChatMessageTypeSystem},
		{"assistant", llms.ChatMessageTypeAI},
		{"user", llms.ChatMessageTypeHuman},
		{"anything", llms.ChatMessageTypeHuman},
	}
	for _, tc := range cases {
		if got := langchainRole(tc.in); got != tc.want {
			t.Errorf("langchainRole(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
