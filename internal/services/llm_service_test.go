// internal/services/llm_service_test.go
package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Corphon/RadioMirchiMCP/internal/llm"
)

// fakeProvider 返回固定文本的LLM提供者
type fakeProvider struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	lastReq  llm.CompletionRequest
}

func (f *fakeProvider) Initialize(config map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                           { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string              { return []string{"fake-model"} }

func (f *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.response, ModelName: req.Model}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestLLMServiceNotReady(t *testing.T) {
	service := NewEmptyLLMService()

	if service.IsReady() {
		t.Fatal("空服务不应处于就绪状态")
	}

	var out map[string]interface{}
	err := service.CreateStructuredCompletion(context.Background(), "prompt", "", &out)
	if err == nil {
		t.Fatal("未就绪服务应拒绝生成请求")
	}
}

func TestCreateStructuredCompletion(t *testing.T) {
	provider := &fakeProvider{response: "```json\n{\"summary\": \"all is well\", \"count\": 3}\n```"}
	service := NewLLMServiceWithProvider(provider, "fake")

	var out struct {
		Summary string `json:"summary"`
		Count   int    `json:"count"`
	}

	if err := service.CreateStructuredCompletion(context.Background(), "prompt", "system", &out); err != nil {
		t.Fatalf("结构化生成失败: %v", err)
	}

	if out.Summary != "all is well" || out.Count != 3 {
		t.Fatalf("解析结果错误: %+v", out)
	}

	provider.mu.Lock()
	req := provider.lastReq
	provider.mu.Unlock()
	if !req.JSONMode {
		t.Fatal("结构化生成应启用JSON模式")
	}
	if req.SystemPrompt == "system" {
		t.Fatal("系统提示应追加格式约束")
	}
}

func TestCreateStructuredCompletionUsesCache(t *testing.T) {
	provider := &fakeProvider{response: `{"value": "cached"}`}
	service := NewLLMServiceWithProvider(provider, "fake")

	var first, second struct {
		Value string `json:"value"`
	}

	if err := service.CreateStructuredCompletion(context.Background(), "same prompt", "", &first); err != nil {
		t.Fatalf("首次生成失败: %v", err)
	}
	if err := service.CreateStructuredCompletion(context.Background(), "same prompt", "", &second); err != nil {
		t.Fatalf("二次生成失败: %v", err)
	}

	if provider.callCount() != 1 {
		t.Fatalf("相同请求应命中缓存，实际调用次数: %d", provider.callCount())
	}
	if second.Value != "cached" {
		t.Fatalf("缓存结果错误: %+v", second)
	}
}

func TestCreateStructuredCompletionProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("quota exceeded")}
	service := NewLLMServiceWithProvider(provider, "fake")

	var out map[string]interface{}
	if err := service.CreateStructuredCompletion(context.Background(), "prompt", "", &out); err == nil {
		t.Fatal("提供者错误应向上传递")
	}
}

func TestCreateStructuredCompletionInvalidJSON(t *testing.T) {
	provider := &fakeProvider{response: "I refuse to answer in JSON"}
	service := NewLLMServiceWithProvider(provider, "fake")

	var out map[string]interface{}
	if err := service.CreateStructuredCompletion(context.Background(), "prompt", "", &out); err == nil {
		t.Fatal("无法解析的响应应返回错误")
	}
}

func TestCleanLLMJSONResponse(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"纯JSON", `{"a": 1}`, `{"a": 1}`},
		{"markdown围栏", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"前后废话", "Sure, here you go: {\"a\": 1} hope it helps", `{"a": 1}`},
		{"数组", "result:\n[1, 2, 3]\ndone", `[1, 2, 3]`},
		{"无JSON", "no structured data here", "no structured data here"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanLLMJSONResponse(tc.input); got != tc.want {
				t.Fatalf("清理结果错误: 期望%q实际%q", tc.want, got)
			}
		})
	}
}
