// internal/app/app.go
package app

import (
	"fmt"
	"sync"

	"github.com/Corphon/RadioMirchiMCP/internal/config"
	"github.com/Corphon/RadioMirchiMCP/internal/di"
	"github.com/Corphon/RadioMirchiMCP/internal/services"
	"github.com/Corphon/RadioMirchiMCP/internal/speech"
	"github.com/Corphon/RadioMirchiMCP/internal/storage"
	"github.com/Corphon/RadioMirchiMCP/internal/utils"

	// 注册LLM提供商
	_ "github.com/Corphon/RadioMirchiMCP/internal/llm/providers/google"
)

// App 应用程序单例
type App struct {
	stopChan chan struct{}
}

var (
	instance *App
	once     sync.Once
)

// GetApp 获取应用实例
func GetApp() *App {
	once.Do(func() {
		instance = &App{
			stopChan: make(chan struct{}),
		}
	})
	return instance
}

// GetConfig 获取当前应用配置
func (a *App) GetConfig() *config.AppConfig {
	return config.GetCurrentConfig()
}

// GetDIContainer 获取依赖注入容器
func (a *App) GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 是否处于调试模式
func (a *App) IsDebugMode() bool {
	cfg := config.GetCurrentConfig()
	return cfg != nil && cfg.DebugMode
}

// InitServices 按依赖顺序初始化并注册所有服务
func InitServices() error {
	logger := utils.GetLogger()
	container := di.GetContainer()
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	// 1. 文件存储
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	// 2. LLM服务（未配置密钥时降级为待机模式）
	llmService, err := services.NewLLMService()
	if err != nil {
		logger.Warnf("⚠️ LLM服务初始化异常，使用待机模式: %v", err)
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)
	if !llmService.IsReady() {
		logger.Warnf("⚠️ LLM服务未就绪: %s", llmService.GetReadyState())
	}

	// 3. 语音服务
	if cfg.DeepgramAPIKey == "" {
		logger.Warnf("⚠️ DEEPGRAM_API_KEY 未配置，语音合成与转写将不可用")
	}
	speechService := speech.NewService(cfg.DeepgramAPIKey)
	container.Register("speech", speechService)

	// 4. 宣传任务服务
	propagandaService := services.NewPropagandaService(llmService, fileStorage)
	container.Register("propaganda", propagandaService)

	// 5. 对话生成服务
	dialogueService := services.NewDialogueService(llmService)
	container.Register("dialogue", dialogueService)

	// 6. 连接管理器
	connManager := services.NewConnectionManager()
	container.Register("connections", connManager)

	// 7. 会话注册表
	sessionRegistry := services.NewSessionRegistry(propagandaService, dialogueService, speechService, connManager)
	container.Register("sessions", sessionRegistry)

	logger.Infof("✅ 服务初始化完成，已注册: %v", container.GetNames())
	return nil
}

// Cleanup 终止所有活跃会话并释放资源
func (a *App) Cleanup() {
	container := di.GetContainer()

	if registry, ok := container.Get("sessions").(*services.SessionRegistry); ok && registry != nil {
		registry.StopAll()
	}

	close(a.stopChan)
	utils.GetLogger().Infof("✅ 应用资源清理完成")
}
