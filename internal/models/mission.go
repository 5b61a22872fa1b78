// internal/models/mission.go
package models

import (
	"time"
)

// MissionStatus 任务生成阶段
type MissionStatus string

const (
	// MissionStatusStage1 任务已创建，宣传内容生成中
	MissionStatusStage1 MissionStatus = "stage1"
	// MissionStatusStage2 对话上下文已就绪，可以开始广播会话
	MissionStatusStage2 MissionStatus = "stage2"
	// MissionStatusFailed 宣传内容生成失败
	MissionStatusFailed MissionStatus = "failed"
)

// Mission 表示一个宣传任务（一期广播节目的全部静态内容）
type Mission struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id,omitempty"` // 创建者用户ID
	Topic     string        `json:"topic"`
	Status    MissionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// 生成结果
	Summary          string    `json:"summary,omitempty"`
	ProofPoints      []string  `json:"proof_points,omitempty"` // 仅供听众反驳使用，主持人不得说出
	Speakers         []Speaker `json:"speakers,omitempty"`
	InitialListeners int       `json:"initial_listeners,omitempty"`

	// 对话生成器上下文，stage1 -> stage2 时一次性装配，之后不可变
	DialogueContext string `json:"dialogue_context,omitempty"`

	// 生成失败时的简短原因（不含敏感信息）
	FailureReason string `json:"failure_reason,omitempty"`
}

// Ready 返回任务是否已具备开始会话的条件
func (m *Mission) Ready() bool {
	return m.Status == MissionStatusStage2 && m.DialogueContext != ""
}

// SpeakerByName 按名称查找主持人，找不到时返回nil
func (m *Mission) SpeakerByName(name string) *Speaker {
	for i := range m.Speakers {
		if m.Speakers[i].Name == name {
			return &m.Speakers[i]
		}
	}
	return nil
}

// Speaker 电台主持人档案，会话开始后不可变
type Speaker struct {
	Name        string `json:"name"`
	Gender      string `json:"gender"` // male / female，决定TTS音色池
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// MissionMetadata 用于状态轮询的轻量视图
type MissionMetadata struct {
	ID        string        `json:"id"`
	Status    MissionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Metadata 返回任务的轻量视图
func (m *Mission) Metadata() MissionMetadata {
	return MissionMetadata{
		ID:        m.ID,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}
