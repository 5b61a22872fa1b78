// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/Corphon/RadioMirchiMCP/internal/config"
	"github.com/Corphon/RadioMirchiMCP/internal/di"
	"github.com/Corphon/RadioMirchiMCP/internal/services"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// ✅ 只从容器获取服务，不再创建新实例
	propagandaService, ok := container.Get("propaganda").(*services.PropagandaService)
	if !ok {
		return nil, fmt.Errorf("宣传任务服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	sessionRegistry, ok := container.Get("sessions").(*services.SessionRegistry)
	if !ok {
		return nil, fmt.Errorf("会话注册表未正确初始化")
	}

	connManager, ok := container.Get("connections").(*services.ConnectionManager)
	if !ok {
		return nil, fmt.Errorf("连接管理器未正确初始化")
	}

	handler := NewHandler(propagandaService, llmService, sessionRegistry)
	wsHandler := NewWebSocketHandler(sessionRegistry, connManager)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())

	// WebSocket 支持
	r.GET("/ws/:mission_id", wsHandler.MissionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		api.GET("/health", handler.HealthCheck)

		// ===============================
		// 任务相关路由
		// ===============================
		missionsGroup := api.Group("/missions")
		{
			missionsGroup.POST("", MissionCreateRateLimit(), handler.CreateMission)
			missionsGroup.GET("/:id", handler.GetMission)
			missionsGroup.GET("/:id/status", handler.GetMissionStatus)
		}

		// ===============================
		// 会话相关路由
		// ===============================
		api.GET("/sessions/:id", handler.GetSessionStatus)

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
