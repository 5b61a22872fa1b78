// internal/models/dialogue.go
package models

// DialogueLine 一条待播报的主持人台词，入队后不可变
type DialogueLine struct {
	SpeakerName string `json:"speaker_name"`
	Line        string `json:"line"`
}

// Turn 会话历史中的一个回合：主持人台词或用户发言
type Turn struct {
	Speaker string `json:"speaker"` // 用户回合固定为 "listener"
	Text    string `json:"text"`
	IsUser  bool   `json:"is_user,omitempty"`
}

// NewHostTurn 创建主持人回合
func NewHostTurn(speaker, text string) Turn {
	return Turn{Speaker: speaker, Text: text}
}

// NewUserTurn 创建用户回合
func NewUserTurn(text string) Turn {
	return Turn{Speaker: "listener", Text: text, IsUser: true}
}
