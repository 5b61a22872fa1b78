// internal/services/session_registry.go
package services

import (
	"sync"

	"github.com/Corphon/RadioMirchiMCP/internal/models"
)

// MissionStore 会话注册表所需的任务读取能力
type MissionStore interface {
	GetMission(missionID string) (*models.Mission, error)
}

// SessionRegistry 按任务ID管理活跃会话
// GetOrCreate 保证同一任务并发请求下只会创建并启动一个会话
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*GameSession

	missions MissionStore
	source   DialogueSource
	speech   SpeechService
	conns    *ConnectionManager
}

// NewSessionRegistry 创建会话注册表
func NewSessionRegistry(missions MissionStore, source DialogueSource, speechSvc SpeechService, conns *ConnectionManager) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*GameSession),
		missions: missions,
		source:   source,
		speech:   speechSvc,
		conns:    conns,
	}
}

// GetOrCreate 查找任务的活跃会话，不存在时创建并启动
func (r *SessionRegistry) GetOrCreate(missionID string) (*GameSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[missionID]; ok {
		return session, nil
	}

	mission, err := r.missions.GetMission(missionID)
	if err != nil {
		return nil, err
	}

	session, err := NewGameSession(mission, r.source, r.speech, r.conns)
	if err != nil {
		return nil, err
	}

	// 会话自行终止时从注册表摘除
	session.OnStop = func() {
		r.remove(missionID, session)
	}

	r.sessions[missionID] = session
	session.Start()

	return session, nil
}

// Get 查找任务的活跃会话，不存在时返回nil
func (r *SessionRegistry) Get(missionID string) *GameSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[missionID]
}

// remove 仅当注册的仍是该会话时摘除
func (r *SessionRegistry) remove(missionID string, session *GameSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[missionID] == session {
		delete(r.sessions, missionID)
	}
}

// Count 活跃会话数
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopAll 终止所有会话（服务关闭时调用）
func (r *SessionRegistry) StopAll() {
	r.mu.Lock()
	sessions := make([]*GameSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
