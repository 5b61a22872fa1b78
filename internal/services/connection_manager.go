// internal/services/connection_manager.go
package services

import (
	"sync"

	"github.com/Corphon/RadioMirchiMCP/internal/utils"
)

// ClientTransport 会话到客户端的下行通道
// 实现方负责自己的写入串行化
type ClientTransport interface {
	SendText(message map[string]interface{}) error
	SendBytes(data []byte) error
	Close() error
}

// ConnectionManager 维护 missionID -> 客户端传输 的映射
// 同一任务同时只保留一条连接，新连接替换旧连接
type ConnectionManager struct {
	mu         sync.RWMutex
	transports map[string]ClientTransport
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		transports: make(map[string]ClientTransport),
	}
}

// Register 注册一条客户端连接，替换并关闭同任务的旧连接
func (cm *ConnectionManager) Register(missionID string, transport ClientTransport) {
	cm.mu.Lock()
	old := cm.transports[missionID]
	cm.transports[missionID] = transport
	cm.mu.Unlock()

	if old != nil && old != transport {
		utils.GetLogger().Infof("🔌 任务 %s 的旧连接被新连接替换", missionID)
		old.Close()
	}
}

// Remove 移除一条连接；仅当当前注册的仍是该连接时生效，
// 避免旧连接的清理误删新连接。返回是否真正发生了移除
func (cm *ConnectionManager) Remove(missionID string, transport ClientTransport) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.transports[missionID] == transport {
		delete(cm.transports, missionID)
		return true
	}
	return false
}

// IsRegistered 返回任务当前是否有活跃连接
func (cm *ConnectionManager) IsRegistered(missionID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	_, ok := cm.transports[missionID]
	return ok
}

// SendText 向任务的当前连接发送一条控制消息
// 无连接时静默丢弃
func (cm *ConnectionManager) SendText(missionID string, message map[string]interface{}) error {
	cm.mu.RLock()
	transport := cm.transports[missionID]
	cm.mu.RUnlock()

	if transport == nil {
		return nil
	}
	return transport.SendText(message)
}

// SendBytes 向任务的当前连接发送一块音频数据
// 无连接时静默丢弃
func (cm *ConnectionManager) SendBytes(missionID string, data []byte) error {
	cm.mu.RLock()
	transport := cm.transports[missionID]
	cm.mu.RUnlock()

	if transport == nil {
		return nil
	}
	return transport.SendBytes(data)
}
