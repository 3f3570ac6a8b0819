package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLLMService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *LLMConfig
		expectError bool
	}{
		{"deepseek", &LLMConfig{Provider: "deepseek", Model: "deepseek-chat", APIKey: "k", BaseURL: "https://api.deepseek.com"}, false},
		{"openai", &LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k"}, false},
		{"siliconflow", &LLMConfig{Provider: "siliconflow", Model: "Qwen/Qwen2.5-7B-Instruct", APIKey: "k"}, false},
		{"anthropic", &LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "k"}, false},
		{"gemini", &LLMConfig{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: "k"}, false},
		{"unsupported", &LLMConfig{Provider: "unsupported"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMService(tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConvertMessages(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a helpful assistant"},
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there"},
		{Role: "other", Content: "?"},
	}

	converted := convertMessages(messages)
	require.Len(t, converted, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, converted[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, converted[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, converted[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, converted[3].Role)
	assert.Equal(t, "Hi there", converted[2].Content)
}

func TestFormatMessages(t *testing.T) {
	history := []Message{UserMessage("first"), AssistantMessage("reply")}
	messages := FormatMessages("system prompt", "second", history)

	require.Len(t, messages, 4)
	assert.Equal(t, SystemPrompt("system prompt"), messages[0])
	assert.Equal(t, UserMessage("second"), messages[3])

	assert.Len(t, FormatMessages("", "only", nil), 1)
}

func TestOpenAILLM_Chat(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	llm, err := NewLLMService(&LLMConfig{Provider: "openai", Model: "gpt-test", APIKey: "k", BaseURL: server.URL, MaxTokens: 16})
	require.NoError(t, err)

	reply, err := llm.Chat(context.Background(), []Message{UserMessage("ping")})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
	assert.Equal(t, "gpt-test", gotModel)
}

func TestOpenAILLM_ChatEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[]}`)
	}))
	defer server.Close()

	llm, err := NewLLMService(&LLMConfig{Provider: "deepseek", Model: "m", APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = llm.Chat(context.Background(), []Message{UserMessage("ping")})
	assert.Error(t, err)
}


func TestAnthropicLLM_ChatSplitsSystemMessages(t *testing.T) {
	var body struct {
		Model  string `json:"model"`
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"pong"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":1}}`)
	}))
	defer server.Close()

	llm, err := NewLLMService(&LLMConfig{Provider: "anthropic", Model: "claude-test", APIKey: "k", BaseURL: server.URL, MaxTokens: 16})
	require.NoError(t, err)

	reply, err := llm.Chat(context.Background(), FormatMessages("be brief", "ping", []Message{UserMessage("hi"), AssistantMessage("hello")}))
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)

	assert.Equal(t, "claude-test", body.Model)
	require.Len(t, body.System, 1)
	assert.Equal(t, "be brief", body.System[0].Text)
	require.Len(t, body.Messages, 3)
	assert.Equal(t, "user", body.Messages[0].Role)
	assert.Equal(t, "assistant", body.Messages[1].Role)
	assert.Equal(t, "user", body.Messages[2].Role)
}

func TestGeminiLLM_ChatSplitsSystemMessages(t *testing.T) {
	var body struct {
		Contents []struct {
			Role string `json:"role"`
		} `json:"contents"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"pong"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	llm, err := NewLLMService(&LLMConfig{Provider: "gemini", Model: "gemini-test", APIKey: "k", BaseURL: server.URL, MaxTokens: 16})
	require.NoError(t, err)

	reply, err := llm.Chat(context.Background(), FormatMessages("be brief", "ping", []Message{UserMessage("hi"), AssistantMessage("hello")}))
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)

	require.NotNil(t, body.SystemInstruction)
	require.Len(t, body.SystemInstruction.Parts, 1)
	assert.Equal(t, "be brief", body.SystemInstruction.Parts[0].Text)
	require.Len(t, body.Contents, 3)
	assert.Equal(t, "user", body.Contents[0].Role)
	assert.Equal(t, "model", body.Contents[1].Role)
	assert.Equal(t, "user", body.Contents[2].Role)
}
