// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/RadioMirchiMCP/internal/config"
	"github.com/Corphon/RadioMirchiMCP/internal/llm"
)

// LLMService 包装LLM提供者，提供结构化输出与结果缓存
type LLMService struct {
	provider      llm.Provider
	providerName  string
	providerMutex sync.RWMutex
	isReady       bool
	readyState    string
	defaultModel  string

	cache *llmCache
}

// llmCache 简单的内存结果缓存
type llmCache struct {
	mutex      sync.RWMutex
	cache      map[string]*llmCacheEntry
	expiration time.Duration
}

type llmCacheEntry struct {
	response  []byte
	createdAt time.Time
}

// NewLLMService 创建一个新的LLM服务
func NewLLMService() (*LLMService, error) {
	service := createBaseLLMService()

	// 尝试从配置初始化
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service, nil
	}

	if cfg.LLMProvider == "" || cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		service.readyState = "API key not configured"
		return service, nil
	}

	// 尝试初始化提供商
	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service, nil // 返回未就绪服务而不是错误
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.defaultModel = cfg.LLMConfig["default_model"]
	service.isReady = true
	service.readyState = "Ready"

	return service, nil
}

// NewEmptyLLMService 创建一个空的LLM服务实例作为后备方案
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService()
	service.providerName = "empty"
	service.readyState = "Standby Service Mode – API key not configured"
	return service
}

// NewLLMServiceWithProvider 使用给定提供者创建LLM服务（测试用）
func NewLLMServiceWithProvider(provider llm.Provider, name string) *LLMService {
	service := createBaseLLMService()
	service.provider = provider
	service.providerName = name
	service.isReady = true
	service.readyState = "Ready"
	return service
}

func createBaseLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		cache: &llmCache{
			cache:      make(map[string]*llmCacheEntry),
			expiration: 30 * time.Minute,
		},
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	return s.readyState
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.defaultModel = cfg["default_model"]
	s.isReady = true
	s.readyState = "Ready"

	// 换提供商后旧缓存作废
	s.cache = &llmCache{
		cache:      make(map[string]*llmCacheEntry),
		expiration: 30 * time.Minute,
	}

	return nil
}

// CreateCompletion 普通文本生成
func (s *LLMService) CreateCompletion(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	if !s.isReady || s.provider == nil {
		state := s.readyState
		s.providerMutex.RUnlock()
		return nil, fmt.Errorf("LLM service not ready: %s", state)
	}
	provider := s.provider
	s.providerMutex.RUnlock()

	return provider.CompleteText(ctx, req)
}

// CreateStructuredCompletion 结构化输出生成
// 结果直接解析到 outputSchema 指向的结构中
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, prompt, systemPrompt string, outputSchema interface{}) error {
	s.providerMutex.RLock()
	if !s.isReady || s.provider == nil {
		state := s.readyState
		s.providerMutex.RUnlock()
		return fmt.Errorf("LLM service not ready: %s", state)
	}
	provider := s.provider
	model := s.defaultModel
	s.providerMutex.RUnlock()

	// 检查缓存
	cacheKey := s.generateCacheKey(prompt, systemPrompt, model)
	if s.checkAndUseCache(cacheKey, outputSchema) {
		return nil
	}

	// 修改系统提示以请求特定格式
	structuredSystemPrompt := systemPrompt
	if structuredSystemPrompt != "" {
		structuredSystemPrompt += "\n\n"
	}
	structuredSystemPrompt += "Return your response in valid JSON format, following the provided output schema, without adding explanations or preambles."

	req := llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: structuredSystemPrompt,
		Temperature:  0.3,
		Model:        model,
		JSONMode:     true,
	}

	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return err
	}

	// 清理并解析JSON
	text := CleanLLMJSONResponse(resp.Text)
	if err := json.Unmarshal([]byte(text), outputSchema); err != nil {
		return fmt.Errorf("failed to parse AI response into structured data: %w\nAI return: %s", err, text)
	}

	s.saveToCache(cacheKey, outputSchema)

	return nil
}

// generateCacheKey 生成缓存键
func (s *LLMService) generateCacheKey(prompt, systemPrompt, model string) string {
	s.providerMutex.RLock()
	providerName := s.providerName
	s.providerMutex.RUnlock()

	hashInput := fmt.Sprintf("%s:::%s:::%s:::%s", prompt, systemPrompt, model, providerName)
	h := md5.New()
	h.Write([]byte(hashInput))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// checkAndUseCache 命中缓存时填充outputSchema
func (s *LLMService) checkAndUseCache(key string, outputSchema interface{}) bool {
	s.cache.mutex.RLock()
	entry, exists := s.cache.cache[key]
	s.cache.mutex.RUnlock()

	if !exists || time.Since(entry.createdAt) > s.cache.expiration {
		return false
	}

	return json.Unmarshal(entry.response, outputSchema) == nil
}

// saveToCache 保存结果到缓存
func (s *LLMService) saveToCache(key string, response interface{}) {
	data, err := json.Marshal(response)
	if err != nil {
		return
	}

	s.cache.mutex.Lock()
	defer s.cache.mutex.Unlock()

	s.cache.cache[key] = &llmCacheEntry{
		response:  data,
		createdAt: time.Now(),
	}
}

// CleanLLMJSONResponse 清理LLM返回的JSON字符串
// 去除markdown围栏和正文前后的非JSON内容
func CleanLLMJSONResponse(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	// 截取首个 { 或 [ 到配对末尾之间的内容
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}

	var endCh byte
	if s[start] == '{' {
		endCh = '}'
	} else {
		endCh = ']'
	}
	end := strings.LastIndexByte(s, endCh)
	if end <= start {
		return s[start:]
	}

	return s[start : end+1]
}
