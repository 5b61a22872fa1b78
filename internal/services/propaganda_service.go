// internal/services/propaganda_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/RadioMirchiMCP/internal/errors"
	"github.com/Corphon/RadioMirchiMCP/internal/models"
	"github.com/Corphon/RadioMirchiMCP/internal/storage"
	"github.com/Corphon/RadioMirchiMCP/internal/utils"
	"github.com/google/uuid"
)

// 任务记录存放目录（相对存储根目录）
const missionsDir = "missions"

// PropagandaService 负责宣传任务的生成与持久化
// 任务创建后在后台生成内容：stage1 -> stage2（或 failed）
type PropagandaService struct {
	LLMService *LLMService
	Storage    *storage.FileStorage

	// 内容生成超时
	GenerateTimeout time.Duration
}

// propagandaResult LLM结构化输出
type propagandaResult struct {
	Summary          string           `json:"summary"`
	ProofSentences   []string         `json:"proof_sentences"`
	Speakers         []models.Speaker `json:"speakers"`
	InitialListeners int              `json:"initial_listeners"`
}

// NewPropagandaService 创建宣传任务服务
func NewPropagandaService(llmService *LLMService, fs *storage.FileStorage) *PropagandaService {
	return &PropagandaService{
		LLMService:      llmService,
		Storage:         fs,
		GenerateTimeout: 2 * time.Minute,
	}
}

// CreateMission 创建任务记录并在后台生成宣传内容
// 返回时任务处于 stage1，客户端轮询状态等待 stage2
func (s *PropagandaService) CreateMission(topic, userID string) (*models.Mission, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apperrors.NewValidationError("任务主题不能为空", nil)
	}

	if !s.LLMService.IsReady() {
		return nil, apperrors.NewProcessingError("LLM服务未就绪: "+s.LLMService.GetReadyState(), nil)
	}

	now := time.Now()
	mission := &models.Mission{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topic,
		Status:    models.MissionStatusStage1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.saveMission(mission); err != nil {
		return nil, err
	}

	// 后台生成内容，客户端通过状态接口轮询
	go s.generateMissionContent(mission.ID, topic)

	return mission, nil
}

// generateMissionContent 生成宣传内容并推进任务阶段
func (s *PropagandaService) generateMissionContent(missionID, topic string) {
	logger := utils.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), s.GenerateTimeout)
	defer cancel()

	var result propagandaResult
	err := s.LLMService.CreateStructuredCompletion(ctx, buildPropagandaPrompt(topic), "", &result)
	if err == nil {
		err = validatePropaganda(&result)
	}

	mission, loadErr := s.GetMission(missionID)
	if loadErr != nil {
		logger.Errorf("生成完成但任务记录丢失 %s: %v", missionID, loadErr)
		return
	}

	if err != nil {
		logger.Errorf("任务 %s 宣传内容生成失败: %v", missionID, err)
		mission.Status = models.MissionStatusFailed
		mission.FailureReason = "content generation failed"
		mission.UpdatedAt = time.Now()
		s.saveMission(mission)
		return
	}

	mission.Summary = result.Summary
	mission.ProofPoints = result.ProofSentences
	mission.Speakers = result.Speakers
	mission.InitialListeners = clampListeners(result.InitialListeners)
	mission.DialogueContext = buildDialogueContext(&result)
	mission.Status = models.MissionStatusStage2
	mission.UpdatedAt = time.Now()

	if err := s.saveMission(mission); err != nil {
		logger.Errorf("保存任务 %s 失败: %v", missionID, err)
		return
	}

	logger.Infof("任务 %s 内容生成完成，主持人数量: %d", missionID, len(mission.Speakers))
}

// GetMission 按ID读取任务记录
func (s *PropagandaService) GetMission(missionID string) (*models.Mission, error) {
	if missionID == "" {
		return nil, apperrors.NewValidationError("任务ID不能为空", nil)
	}

	var mission models.Mission
	if err := s.Storage.LoadJSONFile(missionsDir, missionID+".json", &mission); err != nil {
		return nil, apperrors.NewNotFoundError("任务不存在: "+missionID, err)
	}

	return &mission, nil
}

// saveMission 持久化任务记录
func (s *PropagandaService) saveMission(mission *models.Mission) error {
	if err := s.Storage.SaveJSONFile(missionsDir, mission.ID+".json", mission); err != nil {
		return apperrors.NewProcessingError("保存任务记录失败", err)
	}
	return nil
}

// validatePropaganda 校验生成结果的基本形状
func validatePropaganda(result *propagandaResult) error {
	if strings.TrimSpace(result.Summary) == "" {
		return fmt.Errorf("生成结果缺少摘要")
	}
	if len(result.Speakers) == 0 || len(result.Speakers) > 4 {
		return fmt.Errorf("主持人数量无效: %d", len(result.Speakers))
	}
	seen := make(map[string]bool)
	for _, sp := range result.Speakers {
		if strings.TrimSpace(sp.Name) == "" {
			return fmt.Errorf("主持人名称为空")
		}
		if seen[sp.Name] {
			return fmt.Errorf("主持人名称重复: %s", sp.Name)
		}
		seen[sp.Name] = true
	}
	return nil
}

// clampListeners 听众数限制在合理范围
func clampListeners(n int) int {
	if n < 100 {
		return 100
	}
	if n > 5000 {
		return 5000
	}
	return n
}

// buildPropagandaPrompt 构建宣传内容生成提示
func buildPropagandaPrompt(topic string) string {
	var b strings.Builder
	b.WriteString("You are a creative plot maker for a dystopian radio show. ")
	b.WriteString(fmt.Sprintf("Your task is to create a piece of propaganda on the following topic in simple English: %q\n\n", topic))
	b.WriteString("Please generate the following:\n")
	b.WriteString("1. summary: a brief summary of the propaganda in easy English (4-5 sentences).\n")
	b.WriteString("2. proof_sentences: a list of about 1-5 sentences that are proof or evidence that the topic is not beneficial but instead is a propaganda. ")
	b.WriteString("These should not be general opinions but instead proof like statistics, facts, quotes, mistakes, leaks, or info from experts.\n")
	b.WriteString("3. speakers: a list of 1 to 4 radio show speakers. For each speaker provide name, gender (male/female), ")
	b.WriteString("color (a hex display color) and description (a short biography). ")
	b.WriteString("Use proper names like \"John Doe\" or \"Jane Smith\".\n")
	b.WriteString("4. initial_listeners: an initial number of listeners for the show, a realistic number between 100 and 5000 depending on the topic.\n\n")
	b.WriteString("This radio is about pushing a propaganda, so the speakers should be biased towards the topic. ")
	b.WriteString("The language should be simple and easy to understand, as if explaining to a 10-year-old. ")
	b.WriteString("The propaganda should be persuasive and engaging, suitable for a radio broadcast.")
	return b.String()
}

// buildDialogueContext 装配对话生成器上下文
// stage1 -> stage2 时一次性生成，之后整个会话期间不可变
func buildDialogueContext(result *propagandaResult) string {
	var b strings.Builder
	b.WriteString("You are writing a live dystopian radio broadcast.\n\n")
	b.WriteString("Propaganda summary:\n")
	b.WriteString(result.Summary)
	b.WriteString("\n\nRadio hosts:\n")
	for _, sp := range result.Speakers {
		b.WriteString(fmt.Sprintf("- %s (%s): %s\n", sp.Name, sp.Gender, sp.Description))
	}
	b.WriteString("\nThe hosts are fully convinced by the propaganda and push it with enthusiasm. ")
	b.WriteString("They speak in short, punchy radio lines of one or two sentences, in simple English. ")
	b.WriteString("When a listener calls in and challenges them, they react in character: dismissive, nervous or aggressive, but they stay on message.")
	return b.String()
}
