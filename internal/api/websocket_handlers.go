// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"

	apperrors "github.com/Corphon/RadioMirchiMCP/internal/errors"
	"github.com/Corphon/RadioMirchiMCP/internal/services"
	"github.com/Corphon/RadioMirchiMCP/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketHandler 处理广播会话的 WebSocket 连接
type WebSocketHandler struct {
	registry *services.SessionRegistry
	conns    *services.ConnectionManager
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(registry *services.SessionRegistry, conns *services.ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		conns:    conns,
	}
}

// wsCommand 客户端文本帧
type wsCommand struct {
	Type     string `json:"type"`
	Dialogue string `json:"dialogue,omitempty"`
}

// MissionWebSocket 处理 /ws/:mission_id 连接
// 文本帧承载控制命令，二进制帧承载用户语音
func (wh *WebSocketHandler) MissionWebSocket(c *gin.Context) {
	logger := utils.GetLogger()

	missionID := c.Param("mission_id")
	if missionID == "" {
		logger.Errorf("❌ WebSocket 连接失败：任务ID缺失")
		c.AbortWithStatus(400)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("❌ WebSocket 升级失败: %v", err)
		return
	}

	transport := newWSTransport(conn)

	// 先注册传输，会话启动后的首批音频才不会丢失
	wh.conns.Register(missionID, transport)
	defer func() {
		wh.conns.Remove(missionID, transport)
		transport.Close()
	}()

	session, err := wh.registry.GetOrCreate(missionID)
	if err != nil {
		logger.Errorf("❌ 任务 %s 会话创建失败: %v", missionID, err)
		transport.SendText(map[string]interface{}{
			"type":    "error",
			"code":    errorCodeFor(err),
			"message": "session unavailable",
		})
		return
	}

	logger.Infof("✅ WebSocket 客户端已连接到任务 %s", missionID)
	wh.sendWelcomeMessage(transport, session)

	// 读循环：连接断开时退出，会话由心跳检测自行终止
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		if msgType == websocket.BinaryMessage {
			session.HandleUserAudio(data)
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			// 畸形命令只记录，不回传也不断开
			logger.Warnf("任务 %s 收到无法解析的命令: %v", missionID, err)
			continue
		}

		wh.dispatchCommand(session, transport, cmd)
	}

	logger.Infof("🔌 任务 %s 的 WebSocket 连接已关闭", missionID)

	// 没有新连接顶替时立即终止会话，不等心跳检测
	if wh.conns.Remove(missionID, transport) {
		session.Stop()
	}
}

// dispatchCommand 执行一条客户端控制命令
func (wh *WebSocketHandler) dispatchCommand(session *services.GameSession, transport *wsTransport, cmd wsCommand) {
	switch cmd.Type {
	case "start_speech":
		if err := session.StartSpeech(); err != nil {
			utils.GetLogger().Errorf("会话 %s 开始收音失败: %v", session.MissionID, err)
			transport.SendText(map[string]interface{}{
				"type":    "error",
				"message": "failed to start speech capture",
			})
		}

	case "stop_speech":
		session.StopSpeech()

	case "user_dialogue":
		if cmd.Dialogue != "" {
			session.UserDialogue(cmd.Dialogue)
		}

	case "ready_for_next":
		session.ReadyForNext()

	case "ping":
		transport.SendText(map[string]interface{}{"type": "pong"})

	default:
		utils.GetLogger().Warnf("会话 %s 收到未知命令: %q", session.MissionID, cmd.Type)
	}
}

// sendWelcomeMessage 下发连接确认与节目静态信息
func (wh *WebSocketHandler) sendWelcomeMessage(transport *wsTransport, session *services.GameSession) {
	speakers := make([]map[string]interface{}, 0)
	mission := session.Mission()
	for _, sp := range mission.Speakers {
		speakers = append(speakers, map[string]interface{}{
			"name":   sp.Name,
			"gender": sp.Gender,
			"color":  sp.Color,
		})
	}

	transport.SendText(map[string]interface{}{
		"type":       "connected",
		"mission_id": mission.ID,
		"speakers":   speakers,
		"listeners":  mission.InitialListeners,
	})
}

// errorCodeFor 将应用错误映射为客户端错误码
func errorCodeFor(err error) string {
	switch {
	case apperrors.IsNotFoundError(err):
		return "NOT_FOUND"
	case apperrors.IsNotReadyError(err):
		return "MISSION_NOT_READY"
	default:
		return "INTERNAL_ERROR"
	}
}
