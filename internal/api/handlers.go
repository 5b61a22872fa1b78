// internal/api/handlers.go
package api

import (
	"github.com/Corphon/RadioMirchiMCP/internal/config"
	apperrors "github.com/Corphon/RadioMirchiMCP/internal/errors"
	"github.com/Corphon/RadioMirchiMCP/internal/services"
	"github.com/gin-gonic/gin"
)

// Handler API处理器
type Handler struct {
	PropagandaService *services.PropagandaService
	LLMService        *services.LLMService
	Sessions          *services.SessionRegistry
	Helper            *ResponseHelper
}

// NewHandler 创建API处理器
func NewHandler(
	propagandaService *services.PropagandaService,
	llmService *services.LLMService,
	sessions *services.SessionRegistry) *Handler {

	return &Handler{
		PropagandaService: propagandaService,
		LLMService:        llmService,
		Sessions:          sessions,
		Helper:            NewResponseHelper(),
	}
}

// CreateMissionRequest 创建任务请求体
type CreateMissionRequest struct {
	Topic  string `json:"topic" binding:"required"`
	UserID string `json:"user_id"`
}

// CreateMission 创建宣传任务
// POST /api/missions
func (h *Handler) CreateMission(c *gin.Context) {
	var req CreateMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Helper.BadRequest(c, "请求格式无效: topic为必填字段")
		return
	}

	mission, err := h.PropagandaService.CreateMission(req.Topic, req.UserID)
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	h.Helper.Created(c, mission.Metadata(), "任务已创建，内容生成中")
}

// GetMissionStatus 轮询任务生成状态
// GET /api/missions/:id/status
func (h *Handler) GetMissionStatus(c *gin.Context) {
	mission, err := h.PropagandaService.GetMission(c.Param("id"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	h.Helper.Success(c, mission.Metadata())
}

// GetMission 获取完整任务内容
// GET /api/missions/:id
func (h *Handler) GetMission(c *gin.Context) {
	mission, err := h.PropagandaService.GetMission(c.Param("id"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	h.Helper.Success(c, mission)
}

// GetSessionStatus 查询活跃会话状态
// GET /api/sessions/:id
func (h *Handler) GetSessionStatus(c *gin.Context) {
	session := h.Sessions.Get(c.Param("id"))
	if session == nil {
		h.Helper.NotFound(c, "会话不存在或已结束")
		return
	}

	h.Helper.Success(c, gin.H{
		"mission_id": session.MissionID,
		"state":      session.State().String(),
		"queue_len":  session.QueueLen(),
		"turns":      len(session.History()),
		"awakened":   session.Awakened(),
	})
}

// GetLLMStatus 查询LLM服务状态
// GET /api/llm/status
func (h *Handler) GetLLMStatus(c *gin.Context) {
	h.Helper.Success(c, gin.H{
		"ready": h.LLMService.IsReady(),
		"state": h.LLMService.GetReadyState(),
	})
}

// UpdateLLMConfigRequest LLM配置更新请求体
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config" binding:"required"`
}

// UpdateLLMConfig 更新LLM提供商配置
// PUT /api/llm/config
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Helper.BadRequest(c, "请求格式无效: provider和config为必填字段")
		return
	}

	if err := h.LLMService.UpdateProvider(req.Provider, req.Config); err != nil {
		h.Helper.BadRequest(c, "提供商配置无效: "+err.Error())
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.Helper.InternalError(c, "保存配置失败")
		return
	}

	h.Helper.Success(c, gin.H{
		"provider": req.Provider,
		"ready":    h.LLMService.IsReady(),
	}, "LLM配置已更新")
}

// HealthCheck 服务健康检查
// GET /api/health
func (h *Handler) HealthCheck(c *gin.Context) {
	h.Helper.Success(c, gin.H{
		"status":          "ok",
		"llm_ready":       h.LLMService.IsReady(),
		"active_sessions": h.Sessions.Count(),
	})
}

// respondWithError 按错误类型映射HTTP状态码
func (h *Handler) respondWithError(c *gin.Context, err error) {
	switch {
	case apperrors.IsValidationError(err):
		h.Helper.BadRequest(c, err.Error())
	case apperrors.IsNotFoundError(err):
		h.Helper.NotFound(c, err.Error())
	case apperrors.IsNotReadyError(err):
		h.Helper.Conflict(c, err.Error())
	default:
		h.Helper.InternalError(c, err.Error())
	}
}
