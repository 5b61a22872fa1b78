// internal/services/dialogue_service_test.go
package services

import (
	"context"
	"strings"
	"testing"

	"github.com/Corphon/RadioMirchiMCP/internal/models"
)

func TestNextBatchFiltersUnknownSpeakers(t *testing.T) {
	provider := &fakeProvider{response: `{
		"lines": [
			{"speaker_name": "John Doe", "line": "Welcome back!"},
			{"speaker_name": "Impostor", "line": "I should not be here"},
			{"speaker_name": "Jane Smith", "line": ""},
			{"speaker_name": "Jane Smith", "line": "Stay tuned."}
		]
	}`}
	service := NewDialogueService(NewLLMServiceWithProvider(provider, "fake"))

	lines, err := service.NextBatch(context.Background(), testMission(), nil)
	if err != nil {
		t.Fatalf("生成台词失败: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("期望过滤后剩2条台词，实际: %d", len(lines))
	}
	if lines[0].SpeakerName != "John Doe" || lines[1].SpeakerName != "Jane Smith" {
		t.Fatalf("台词顺序或归属错误: %+v", lines)
	}
}

func TestNextBatchRejectsNotReadyMission(t *testing.T) {
	service := NewDialogueService(NewLLMServiceWithProvider(&fakeProvider{}, "fake"))

	mission := testMission()
	mission.Status = models.MissionStatusStage1
	mission.DialogueContext = ""

	if _, err := service.NextBatch(context.Background(), mission, nil); err == nil {
		t.Fatal("未就绪任务应被拒绝")
	}
}

func TestNextBatchEmptyResultIsError(t *testing.T) {
	provider := &fakeProvider{response: `{"lines": [{"speaker_name": "Nobody", "line": "hi"}]}`}
	service := NewDialogueService(NewLLMServiceWithProvider(provider, "fake"))

	if _, err := service.NextBatch(context.Background(), testMission(), nil); err == nil {
		t.Fatal("全部台词被过滤时应返回错误")
	}
}

func TestBuildDialoguePromptOpening(t *testing.T) {
	service := NewDialogueService(NewLLMServiceWithProvider(&fakeProvider{}, "fake"))
	mission := testMission()

	prompt := service.buildDialoguePrompt(mission, nil)

	if !strings.Contains(prompt, "just starting") {
		t.Fatal("无历史时应使用开场提示")
	}
	if !strings.Contains(prompt, "John Doe") || !strings.Contains(prompt, "Jane Smith") {
		t.Fatal("提示应列出全部主持人")
	}
	// 证据要点只作为禁区出现
	if !strings.Contains(prompt, "NEVER say them on air") {
		t.Fatal("提示应禁止主持人说出证据要点")
	}
}

func TestBuildDialoguePromptWithUserTurn(t *testing.T) {
	service := NewDialogueService(NewLLMServiceWithProvider(&fakeProvider{}, "fake"))
	mission := testMission()

	history := []models.Turn{
		models.NewHostTurn("John Doe", "Everything is fine."),
		models.NewUserTurn("No it is not!"),
	}

	prompt := service.buildDialoguePrompt(mission, history)

	if !strings.Contains(prompt, "[caller] No it is not!") {
		t.Fatal("提示应包含听众发言")
	}
	if !strings.Contains(prompt, "must react to it") {
		t.Fatal("最后一回合是听众发言时，应要求主持人回应")
	}
	if !strings.Contains(prompt, "John Doe: Everything is fine.") {
		t.Fatal("提示应包含主持人历史台词")
	}
}

func TestLastTurnIsUser(t *testing.T) {
	if lastTurnIsUser(nil) {
		t.Fatal("空历史不应判定为用户回合")
	}
	if lastTurnIsUser([]models.Turn{models.NewHostTurn("A", "x")}) {
		t.Fatal("主持人回合结尾不应判定为用户回合")
	}
	if !lastTurnIsUser([]models.Turn{models.NewUserTurn("x")}) {
		t.Fatal("用户回合结尾应判定为用户回合")
	}
}
