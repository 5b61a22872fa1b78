// internal/services/propaganda_service_test.go
package services

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/Corphon/RadioMirchiMCP/internal/errors"
	"github.com/Corphon/RadioMirchiMCP/internal/models"
	"github.com/Corphon/RadioMirchiMCP/internal/storage"
)

const validPropagandaJSON = `{
	"summary": "Dream recording keeps everyone safe and happy.",
	"proof_sentences": ["Leaked memo shows recorded dreams are sold to advertisers."],
	"speakers": [
		{"name": "John Doe", "gender": "male", "color": "#ff0000", "description": "veteran host"},
		{"name": "Jane Smith", "gender": "female", "color": "#00ff00", "description": "cheerful co-host"}
	],
	"initial_listeners": 1200
}`

func newTestPropagandaService(t *testing.T, provider *fakeProvider) *PropagandaService {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	return NewPropagandaService(NewLLMServiceWithProvider(provider, "fake"), fs)
}

func TestCreateMissionLifecycle(t *testing.T) {
	provider := &fakeProvider{response: validPropagandaJSON}
	service := newTestPropagandaService(t, provider)

	mission, err := service.CreateMission("mandatory dream recording", "user-1")
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	if mission.Status != models.MissionStatusStage1 {
		t.Fatalf("新任务应处于stage1，实际: %s", mission.Status)
	}
	if mission.ID == "" {
		t.Fatal("任务应分配ID")
	}

	// 等待后台生成完成
	waitFor(t, 5*time.Second, "任务推进到stage2", func() bool {
		loaded, err := service.GetMission(mission.ID)
		return err == nil && loaded.Status == models.MissionStatusStage2
	})

	loaded, err := service.GetMission(mission.ID)
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}

	if !loaded.Ready() {
		t.Fatal("stage2任务应处于可广播状态")
	}
	if len(loaded.Speakers) != 2 {
		t.Fatalf("主持人数量错误: %d", len(loaded.Speakers))
	}
	if loaded.InitialListeners != 1200 {
		t.Fatalf("初始听众数错误: %d", loaded.InitialListeners)
	}
	if len(loaded.ProofPoints) != 1 {
		t.Fatalf("证据要点数量错误: %d", len(loaded.ProofPoints))
	}
	if loaded.DialogueContext == "" {
		t.Fatal("stage2任务应装配对话上下文")
	}
}

func TestCreateMissionRejectsEmptyTopic(t *testing.T) {
	service := newTestPropagandaService(t, &fakeProvider{response: validPropagandaJSON})

	_, err := service.CreateMission("   ", "user-1")
	if err == nil {
		t.Fatal("空主题应被拒绝")
	}
	if !apperrors.IsValidationError(err) {
		t.Fatalf("期望验证错误，实际: %v", err)
	}
}

func TestCreateMissionGenerationFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model overloaded")}
	service := newTestPropagandaService(t, provider)

	mission, err := service.CreateMission("dream recording", "user-1")
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	waitFor(t, 5*time.Second, "任务进入失败状态", func() bool {
		loaded, err := service.GetMission(mission.ID)
		return err == nil && loaded.Status == models.MissionStatusFailed
	})

	loaded, _ := service.GetMission(mission.ID)
	if loaded.FailureReason == "" {
		t.Fatal("失败任务应记录失败原因")
	}
	if loaded.Ready() {
		t.Fatal("失败任务不应处于可广播状态")
	}
}

func TestCreateMissionClampsListeners(t *testing.T) {
	provider := &fakeProvider{response: `{
		"summary": "s",
		"proof_sentences": ["p"],
		"speakers": [{"name": "Solo Host", "gender": "female"}],
		"initial_listeners": 99999
	}`}
	service := newTestPropagandaService(t, provider)

	mission, err := service.CreateMission("topic", "")
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	waitFor(t, 5*time.Second, "任务推进到stage2", func() bool {
		loaded, err := service.GetMission(mission.ID)
		return err == nil && loaded.Status == models.MissionStatusStage2
	})

	loaded, _ := service.GetMission(mission.ID)
	if loaded.InitialListeners != 5000 {
		t.Fatalf("听众数应被限制到5000，实际: %d", loaded.InitialListeners)
	}
}

func TestGetMissionNotFound(t *testing.T) {
	service := newTestPropagandaService(t, &fakeProvider{response: validPropagandaJSON})

	_, err := service.GetMission("no-such-mission")
	if err == nil {
		t.Fatal("未知任务应返回错误")
	}
	if !apperrors.IsNotFoundError(err) {
		t.Fatalf("期望未找到错误，实际: %v", err)
	}
}

func TestValidatePropaganda(t *testing.T) {
	valid := &propagandaResult{
		Summary:  "s",
		Speakers: []models.Speaker{{Name: "A"}, {Name: "B"}},
	}
	if err := validatePropaganda(valid); err != nil {
		t.Fatalf("合法结果不应报错: %v", err)
	}

	noSummary := &propagandaResult{Speakers: []models.Speaker{{Name: "A"}}}
	if err := validatePropaganda(noSummary); err == nil {
		t.Fatal("缺少摘要应报错")
	}

	noSpeakers := &propagandaResult{Summary: "s"}
	if err := validatePropaganda(noSpeakers); err == nil {
		t.Fatal("无主持人应报错")
	}

	tooMany := &propagandaResult{Summary: "s", Speakers: []models.Speaker{
		{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}, {Name: "E"},
	}}
	if err := validatePropaganda(tooMany); err == nil {
		t.Fatal("超过4名主持人应报错")
	}

	duplicate := &propagandaResult{Summary: "s", Speakers: []models.Speaker{
		{Name: "A"}, {Name: "A"},
	}}
	if err := validatePropaganda(duplicate); err == nil {
		t.Fatal("主持人重名应报错")
	}
}
