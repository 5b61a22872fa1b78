// internal/llm/providers/google/google_test.go
package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Corphon/RadioMirchiMCP/internal/llm"
)

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()

	provider := &Provider{}
	err := provider.Initialize(map[string]string{
		"api_key":       "test-key",
		"base_url":      baseURL,
		"default_model": "gemini-2.5-flash",
	})
	if err != nil {
		t.Fatalf("初始化提供商失败: %v", err)
	}
	return provider
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	provider := &Provider{}
	if err := provider.Initialize(map[string]string{}); err == nil {
		t.Fatal("缺少API密钥应初始化失败")
	}
}

func TestProviderIsRegistered(t *testing.T) {
	providers := llm.ListProviders()
	for _, name := range providers {
		if name == "google" {
			return
		}
	}
	t.Fatalf("google提供商未注册: %v", providers)
}

func TestCompleteText(t *testing.T) {
	var captured map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-flash:generateContent") {
			t.Errorf("请求路径错误: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("API密钥未通过查询参数传递")
		}

		json.NewDecoder(r.Body).Decode(&captured)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"parts": []map[string]string{{"text": "generated text"}},
					},
					"finishReason": "STOP",
				},
			},
			"usageMetadata": map[string]int{
				"promptTokenCount":     10,
				"candidatesTokenCount": 5,
				"totalTokenCount":      15,
			},
		})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	resp, err := provider.CompleteText(context.Background(), llm.CompletionRequest{
		Prompt:       "say something",
		SystemPrompt: "be brief",
		Temperature:  0.3,
		JSONMode:     true,
	})
	if err != nil {
		t.Fatalf("文本生成失败: %v", err)
	}

	if resp.Text != "generated text" {
		t.Fatalf("生成文本错误: %q", resp.Text)
	}
	if resp.TokensUsed != 15 || resp.PromptTokens != 10 || resp.OutputTokens != 5 {
		t.Fatalf("token统计错误: %+v", resp)
	}

	// JSON模式应设置响应类型
	genConfig, ok := captured["generationConfig"].(map[string]interface{})
	if !ok {
		t.Fatalf("请求缺少generationConfig: %v", captured)
	}
	if genConfig["responseMimeType"] != "application/json" {
		t.Fatalf("JSON模式未设置responseMimeType: %v", genConfig)
	}

	// 系统提示应作为systemInstruction传递
	if _, ok := captured["systemInstruction"]; !ok {
		t.Fatal("请求缺少systemInstruction")
	}
}

func TestCompleteTextAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "quota exhausted"},
		})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	_, err := provider.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("API错误应向上传递")
	}
	if !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("错误信息应包含API消息: %v", err)
	}
}

func TestCompleteTextNoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"candidates": []interface{}{}})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	if _, err := provider.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"}); err == nil {
		t.Fatal("空结果应返回错误")
	}
}
