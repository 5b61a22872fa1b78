// internal/api/handlers_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/RadioMirchiMCP/internal/llm"
	"github.com/Corphon/RadioMirchiMCP/internal/models"
	"github.com/Corphon/RadioMirchiMCP/internal/services"
	"github.com/Corphon/RadioMirchiMCP/internal/speech"
	"github.com/Corphon/RadioMirchiMCP/internal/storage"
	"github.com/gin-gonic/gin"
)

// stubProvider 返回固定JSON的LLM提供者
type stubProvider struct {
	mu       sync.Mutex
	response string
}

func (p *stubProvider) Initialize(config map[string]string) error { return nil }
func (p *stubProvider) GetName() string                           { return "stub" }
func (p *stubProvider) GetSupportedModels() []string              { return []string{"stub-model"} }

func (p *stubProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &llm.CompletionResponse{Text: p.response}, nil
}

const stubPropagandaJSON = `{
	"summary": "Curfew keeps the streets calm and safe.",
	"proof_sentences": ["Crime statistics were unchanged before the curfew."],
	"speakers": [{"name": "John Doe", "gender": "male", "color": "#ff0000", "description": "host"}],
	"initial_listeners": 800
}`

// newTestStack 构建一套真实服务栈（LLM用桩提供者）
func newTestStack(t *testing.T) (*Handler, *services.PropagandaService) {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	llmService := services.NewLLMServiceWithProvider(&stubProvider{response: stubPropagandaJSON}, "stub")
	propagandaService := services.NewPropagandaService(llmService, fs)
	dialogueService := services.NewDialogueService(llmService)
	connManager := services.NewConnectionManager()
	registry := services.NewSessionRegistry(propagandaService, dialogueService, speech.NewService("test-key"), connManager)
	t.Cleanup(registry.StopAll)

	return NewHandler(propagandaService, llmService, registry), propagandaService
}

func newTestRouter(handler *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/missions", handler.CreateMission)
	r.GET("/api/missions/:id", handler.GetMission)
	r.GET("/api/missions/:id/status", handler.GetMissionStatus)
	r.GET("/api/sessions/:id", handler.GetSessionStatus)
	r.GET("/api/llm/status", handler.GetLLMStatus)
	r.GET("/api/health", handler.HealthCheck)
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v\n%s", err, w.Body.String())
	}
	return resp
}

func TestCreateMissionEndpoint(t *testing.T) {
	handler, propagandaService := newTestStack(t)
	r := newTestRouter(handler)

	w := doRequest(r, "POST", "/api/missions", `{"topic": "mandatory curfew", "user_id": "u1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("期望201，实际%d: %s", w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w)
	if resp["success"] != true {
		t.Fatalf("响应应标记成功: %v", resp)
	}

	data := resp["data"].(map[string]interface{})
	missionID, _ := data["id"].(string)
	if missionID == "" {
		t.Fatalf("响应缺少任务ID: %v", data)
	}
	if data["status"] != "stage1" {
		t.Fatalf("新任务状态应为stage1: %v", data)
	}

	// 等待后台生成完成后轮询状态接口
	deadline := time.Now().Add(5 * time.Second)
	for {
		loaded, err := propagandaService.GetMission(missionID)
		if err == nil && loaded.Status == models.MissionStatusStage2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("任务生成超时")
		}
		time.Sleep(20 * time.Millisecond)
	}

	w = doRequest(r, "GET", "/api/missions/"+missionID+"/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("状态查询失败: %d", w.Code)
	}
	status := decodeResponse(t, w)["data"].(map[string]interface{})
	if status["status"] != "stage2" {
		t.Fatalf("任务状态应为stage2: %v", status)
	}

	// 完整任务内容
	w = doRequest(r, "GET", "/api/missions/"+missionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("任务查询失败: %d", w.Code)
	}
	mission := decodeResponse(t, w)["data"].(map[string]interface{})
	summary, _ := mission["summary"].(string)
	dialogueContext, _ := mission["dialogue_context"].(string)
	if summary == "" || dialogueContext == "" {
		t.Fatalf("stage2任务应包含生成内容: %v", mission)
	}
}

func TestCreateMissionRejectsMissingTopic(t *testing.T) {
	handler, _ := newTestStack(t)
	r := newTestRouter(handler)

	w := doRequest(r, "POST", "/api/missions", `{"user_id": "u1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺少topic应返回400，实际%d", w.Code)
	}

	resp := decodeResponse(t, w)
	if resp["success"] != false {
		t.Fatalf("失败响应不应标记成功: %v", resp)
	}
}

func TestGetMissionNotFoundEndpoint(t *testing.T) {
	handler, _ := newTestStack(t)
	r := newTestRouter(handler)

	w := doRequest(r, "GET", "/api/missions/no-such-id", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("未知任务应返回404，实际%d", w.Code)
	}
}

func TestGetSessionStatusNotFound(t *testing.T) {
	handler, _ := newTestStack(t)
	r := newTestRouter(handler)

	w := doRequest(r, "GET", "/api/sessions/no-such-id", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("无活跃会话应返回404，实际%d", w.Code)
	}
}

func TestHealthAndLLMStatusEndpoints(t *testing.T) {
	handler, _ := newTestStack(t)
	r := newTestRouter(handler)

	w := doRequest(r, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("健康检查失败: %d", w.Code)
	}
	health := decodeResponse(t, w)["data"].(map[string]interface{})
	if health["status"] != "ok" || health["llm_ready"] != true {
		t.Fatalf("健康检查内容错误: %v", health)
	}

	w = doRequest(r, "GET", "/api/llm/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("LLM状态查询失败: %d", w.Code)
	}
	status := decodeResponse(t, w)["data"].(map[string]interface{})
	if status["ready"] != true {
		t.Fatalf("桩提供者应处于就绪状态: %v", status)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	limited := RateLimitMiddleware(2, time.Minute, func(c *gin.Context) string {
		return "rate-limit-test-key"
	})
	r.GET("/limited", limited, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		if w := doRequest(r, "GET", "/limited", ""); w.Code != http.StatusOK {
			t.Fatalf("第%d次请求应放行，实际%d", i+1, w.Code)
		}
	}

	if w := doRequest(r, "GET", "/limited", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("超限请求应返回429，实际%d", w.Code)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	if got := sanitizeErrorMessage("normal failure"); got != "normal failure" {
		t.Fatalf("普通消息不应被改写: %q", got)
	}
	if got := sanitizeErrorMessage("invalid api_key provided"); got == "invalid api_key provided" {
		t.Fatal("包含敏感词的消息应被替换")
	}
}
