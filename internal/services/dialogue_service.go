// internal/services/dialogue_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/RadioMirchiMCP/internal/models"
)

// DialogueSource 为会话提供下一批主持人台词
// GameSession 在播报队列耗尽时调用
type DialogueSource interface {
	NextBatch(ctx context.Context, mission *models.Mission, history []models.Turn) ([]models.DialogueLine, error)
}

// DialogueService 基于LLM生成电台对话
type DialogueService struct {
	LLMService *LLMService

	// 每批生成的台词数量范围
	MinLines int
	MaxLines int
}

// NewDialogueService 创建对话生成服务
func NewDialogueService(llmService *LLMService) *DialogueService {
	return &DialogueService{
		LLMService: llmService,
		MinLines:   3,
		MaxLines:   6,
	}
}

// dialogueBatch LLM结构化输出
type dialogueBatch struct {
	Lines []models.DialogueLine `json:"lines"`
}

// NextBatch 生成下一批主持人台词
// 生成结果按任务中的主持人名单过滤，空批次视为错误
func (s *DialogueService) NextBatch(ctx context.Context, mission *models.Mission, history []models.Turn) ([]models.DialogueLine, error) {
	if mission == nil || !mission.Ready() {
		return nil, fmt.Errorf("任务内容未就绪，无法生成对话")
	}

	prompt := s.buildDialoguePrompt(mission, history)

	var batch dialogueBatch
	if err := s.LLMService.CreateStructuredCompletion(ctx, prompt, mission.DialogueContext, &batch); err != nil {
		return nil, fmt.Errorf("对话生成失败: %w", err)
	}

	lines := make([]models.DialogueLine, 0, len(batch.Lines))
	for _, line := range batch.Lines {
		if strings.TrimSpace(line.Line) == "" {
			continue
		}
		// 丢弃不在主持人名单中的台词
		if mission.SpeakerByName(line.SpeakerName) == nil {
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("对话生成结果为空")
	}

	return lines, nil
}

// buildDialoguePrompt 构建对话批次提示
// 注意：证据要点只用来约束主持人（绝不说出），不是让他们引用
func (s *DialogueService) buildDialoguePrompt(mission *models.Mission, history []models.Turn) string {
	var b strings.Builder

	if len(history) == 0 {
		b.WriteString("The show is just starting. Open the broadcast with an energetic introduction of the topic.\n\n")
	} else {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			if turn.IsUser {
				b.WriteString(fmt.Sprintf("[caller] %s\n", turn.Text))
			} else {
				b.WriteString(fmt.Sprintf("%s: %s\n", turn.Speaker, turn.Text))
			}
		}
		b.WriteString("\nContinue the broadcast from here. ")
		if lastTurnIsUser(history) {
			b.WriteString("A listener just called in with the last message above; the hosts must react to it before moving on. ")
		}
		b.WriteString("\n\n")
	}

	if len(mission.ProofPoints) > 0 {
		b.WriteString("The following facts are damaging to the propaganda. The hosts know about them but must NEVER say them on air. ")
		b.WriteString("If a caller brings one of them up, the hosts deflect, deny or change the subject:\n")
		for _, p := range mission.ProofPoints {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	names := make([]string, 0, len(mission.Speakers))
	for _, sp := range mission.Speakers {
		names = append(names, sp.Name)
	}

	b.WriteString(fmt.Sprintf("Write the next %d to %d lines of dialogue. ", s.MinLines, s.MaxLines))
	b.WriteString(fmt.Sprintf("Only these hosts may speak: %s. ", strings.Join(names, ", ")))
	b.WriteString("Return JSON with a \"lines\" array, each element an object with \"speaker_name\" and \"line\".")

	return b.String()
}

// lastTurnIsUser 历史的最后一回合是否来自听众
func lastTurnIsUser(history []models.Turn) bool {
	return len(history) > 0 && history[len(history)-1].IsUser
}
