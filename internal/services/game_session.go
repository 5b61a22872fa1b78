// internal/services/game_session.go
package services

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/Corphon/RadioMirchiMCP/internal/errors"
	"github.com/Corphon/RadioMirchiMCP/internal/models"
	"github.com/Corphon/RadioMirchiMCP/internal/speech"
	"github.com/Corphon/RadioMirchiMCP/internal/utils"
	"github.com/sethvargo/go-retry"
)

// SessionState 会话状态机
type SessionState int

const (
	// StateIdle 空闲：可以开始播报下一条台词
	StateIdle SessionState = iota
	// StateSpeaking 正在向客户端推送合成音频
	StateSpeaking
	// StateListening 用户正在讲话，播报暂停
	StateListening
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}

// SpeechService 会话所需的语音能力
type SpeechService interface {
	SpeakStream(ctx context.Context, text, gender string) (speech.AudioStream, error)
	NewLiveTranscriber() speech.Transcriber
}

// GameSession 一期广播节目的实时会话
// 驱动台词生成、音频合成推流与用户插话的状态流转
type GameSession struct {
	MissionID string

	mission *models.Mission
	source  DialogueSource
	speech  SpeechService
	conns   *ConnectionManager

	mu          sync.Mutex
	state       SessionState
	queue       []models.DialogueLine
	history     []models.Turn
	speakCancel context.CancelFunc
	transcriber speech.Transcriber
	awakened    int

	// 打断代次：每次清空队列时递增，用于作废在途的生成结果
	epoch int

	// 唤醒主循环（队列补充、用户回合结束）
	wake chan struct{}

	// 生成与合成失败的退避参数
	retryBase time.Duration // 单轮生成内的指数退避基数
	retryWait time.Duration // 整轮失败后的等待时长

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	// OnStop 会话结束时的回调（用于注册表清理），Start前设置
	OnStop func()
}

// 会话调度参数
const (
	listenerTickInterval = 15 * time.Second
	// 连接断开多少个检查周期后会话自行终止
	maxMissedTicks = 2
	// 单次用户发言最多唤醒的听众数
	maxAwakenedPerTurn = 50
)

// NewGameSession 创建会话
// 任务必须已处于 stage2，否则拒绝创建
func NewGameSession(mission *models.Mission, source DialogueSource, speechSvc SpeechService, conns *ConnectionManager) (*GameSession, error) {
	if mission == nil || !mission.Ready() {
		return nil, apperrors.NewNotReadyError("任务内容尚未生成完毕", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &GameSession{
		MissionID: mission.ID,
		mission:   mission,
		source:    source,
		speech:    speechSvc,
		conns:     conns,
		state:     StateIdle,
		wake:      make(chan struct{}, 1),
		retryBase: 500 * time.Millisecond,
		retryWait: 2 * time.Second,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}, nil
}

// Start 启动会话主循环与听众数心跳
func (s *GameSession) Start() {
	utils.GetLogger().Infof("🚀 会话启动: %s (主持人 %d 位)", s.MissionID, len(s.mission.Speakers))
	go s.run()
	go s.listenerLoop()
}

// Done 返回会话结束信号通道
func (s *GameSession) Done() <-chan struct{} {
	return s.done
}

// run 会话主循环：补充队列 -> 播报 -> 等待
func (s *GameSession) run() {
	logger := utils.GetLogger()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		if s.state != StateIdle {
			s.mu.Unlock()
			s.waitWake()
			continue
		}

		if len(s.queue) == 0 {
			s.mu.Unlock()
			batch, epoch, err := s.generateBatch()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				// 生成失败只在服务端退避重试，不向客户端暴露
				logger.Warnf("会话 %s 台词生成失败，%v后重试: %v", s.MissionID, s.retryWait, err)
				s.backoffWait()
				continue
			}

			s.mu.Lock()
			// 生成期间可能发生了插话；基于旧历史的批次直接作废
			if s.state == StateIdle && s.epoch == epoch {
				s.queue = append(s.queue, batch...)
			}
			s.mu.Unlock()
			continue
		}

		// 出队并进入播报状态
		line := s.queue[0]
		s.queue = s.queue[1:]
		s.state = StateSpeaking
		speakCtx, speakCancel := context.WithCancel(s.ctx)
		s.speakCancel = speakCancel
		s.mu.Unlock()

		s.speakLine(speakCtx, line)
		speakCancel()
	}
}

// waitWake 阻塞直到被唤醒或会话结束
func (s *GameSession) waitWake() {
	select {
	case <-s.wake:
	case <-s.ctx.Done():
	}
}

// signalWake 非阻塞唤醒主循环
func (s *GameSession) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// backoffWait 整轮失败后的等待，用户插话可以提前唤醒
func (s *GameSession) backoffWait() {
	timer := time.NewTimer(s.retryWait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.wake:
	case <-s.ctx.Done():
	}
}

// generateBatch 调用对话源补充台词，瞬时失败自动退避重试
// 返回快照历史时的打断代次，调用方据此判断结果是否已过期
func (s *GameSession) generateBatch() ([]models.DialogueLine, int, error) {
	s.mu.Lock()
	historyCopy := make([]models.Turn, len(s.history))
	copy(historyCopy, s.history)
	epoch := s.epoch
	s.mu.Unlock()

	var batch []models.DialogueLine
	backoff := retry.WithMaxRetries(3, retry.NewExponential(s.retryBase))

	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		lines, err := s.source.NextBatch(ctx, s.mission, historyCopy)
		if err != nil {
			return retry.RetryableError(err)
		}
		batch = lines
		return nil
	})
	if err != nil {
		return nil, epoch, err
	}

	return batch, epoch, nil
}

// speakLine 合成并推送一条台词
// 被打断时整条台词不进入历史，客户端也不会收到 turn_end
func (s *GameSession) speakLine(speakCtx context.Context, line models.DialogueLine) {
	logger := utils.GetLogger()

	gender := "female"
	color := ""
	if sp := s.mission.SpeakerByName(line.SpeakerName); sp != nil {
		gender = sp.Gender
		color = sp.Color
	}

	stream, err := s.speech.SpeakStream(speakCtx, line.Line, gender)
	if err != nil {
		if speakCtx.Err() != nil {
			return // 被打断，不算错误
		}
		// 合成失败：台词退回队首，退避后重试
		logger.Errorf("会话 %s 语音合成失败: %v", s.MissionID, err)
		s.requeueLine(speakCtx, line)
		s.backoffWait()
		return
	}
	defer stream.Close()

	// 合成就绪后才宣告本轮，重试的台词不会宣告两次
	s.sendControl(map[string]interface{}{
		"type":    "turn_start",
		"speaker": line.SpeakerName,
		"color":   color,
		"text":    line.Line,
	})

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if speakCtx.Err() != nil {
				return
			}
			// 推流中途断掉等同于连接丢失
			logger.Warnf("会话 %s 音频流中断，自动终止: %v", s.MissionID, err)
			s.Stop()
			return
		}

		select {
		case <-speakCtx.Done():
			return
		default:
		}

		if !s.conns.IsRegistered(s.MissionID) {
			logger.Infof("🔌 会话 %s 推流期间连接断开，自动终止", s.MissionID)
			s.Stop()
			return
		}

		if sendErr := s.conns.SendBytes(s.MissionID, chunk); sendErr != nil {
			logger.Warnf("会话 %s 音频下发失败，自动终止: %v", s.MissionID, sendErr)
			s.Stop()
			return
		}
	}

	s.finishTurn(speakCtx, line)
}

// finishTurn 台词播报完成后的收尾
// 打断检查与历史写入在同一把锁内完成，保证打断后的台词不会混入历史
func (s *GameSession) finishTurn(speakCtx context.Context, line models.DialogueLine) {
	s.mu.Lock()
	if speakCtx.Err() != nil || s.state != StateSpeaking {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history, models.NewHostTurn(line.SpeakerName, line.Line))
	s.state = StateIdle
	s.speakCancel = nil
	s.mu.Unlock()

	s.sendControl(map[string]interface{}{
		"type":    "turn_end",
		"speaker": line.SpeakerName,
	})
}

// requeueLine 合成失败的台词退回队首，等待下一轮重试
// 若期间发生插话（队列已被清空）则直接放弃
func (s *GameSession) requeueLine(speakCtx context.Context, line models.DialogueLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if speakCtx.Err() != nil || s.state != StateSpeaking {
		return
	}
	s.queue = append([]models.DialogueLine{line}, s.queue...)
	s.state = StateIdle
	s.speakCancel = nil
}

// StartSpeech 用户开始讲话：清空队列、打断当前播报、建立转写连接
// 已处于收听状态时为幂等no-op
func (s *GameSession) StartSpeech() error {
	s.mu.Lock()
	if s.state == StateListening {
		s.mu.Unlock()
		return nil
	}

	s.queue = nil
	s.epoch++
	if s.speakCancel != nil {
		s.speakCancel()
		s.speakCancel = nil
	}
	s.state = StateListening
	transcriber := s.speech.NewLiveTranscriber()
	s.transcriber = transcriber
	s.mu.Unlock()

	if err := transcriber.Start(s.ctx); err != nil {
		s.mu.Lock()
		s.transcriber = nil
		s.state = StateIdle
		s.mu.Unlock()
		s.signalWake()
		return fmt.Errorf("启动语音转写失败: %w", err)
	}

	utils.GetLogger().Infof("🎤 会话 %s: 用户开始讲话", s.MissionID)
	return nil
}

// HandleUserAudio 转发一块用户音频到转写连接
// 非收听状态下静默丢弃
func (s *GameSession) HandleUserAudio(chunk []byte) {
	s.mu.Lock()
	transcriber := s.transcriber
	listening := s.state == StateListening
	s.mu.Unlock()

	if !listening || transcriber == nil {
		return
	}

	if err := transcriber.Send(chunk); err != nil {
		utils.GetLogger().Warnf("会话 %s 音频转发失败: %v", s.MissionID, err)
	}
}

// StopSpeech 用户结束讲话：取回转写文本并写入历史
// 转写为空时不产生用户回合，会话直接恢复播报
func (s *GameSession) StopSpeech() error {
	s.mu.Lock()
	transcriber := s.transcriber
	s.transcriber = nil
	s.mu.Unlock()

	if transcriber == nil {
		return nil
	}

	transcript, err := transcriber.Stop()
	if err != nil {
		utils.GetLogger().Warnf("会话 %s 转写结束异常: %v", s.MissionID, err)
	}

	s.commitUserTurn(transcript)
	return nil
}

// UserDialogue 用户以文字方式插话，效果等同一次完整的语音打断
func (s *GameSession) UserDialogue(text string) {
	s.mu.Lock()
	s.queue = nil
	s.epoch++
	if s.speakCancel != nil {
		s.speakCancel()
		s.speakCancel = nil
	}
	s.state = StateListening
	s.mu.Unlock()

	s.commitUserTurn(text)
}

// commitUserTurn 记录用户回合并恢复播报
func (s *GameSession) commitUserTurn(text string) {
	s.mu.Lock()
	if text != "" {
		s.history = append(s.history, models.NewUserTurn(text))
		s.awakened = clampAwakened(s.awakened+awakenedGain(text), s.mission.InitialListeners)
	}
	awakened := s.awakened
	s.state = StateIdle
	s.mu.Unlock()

	if text != "" {
		utils.GetLogger().Infof("📢 会话 %s 听众发言: %q (唤醒 %d)", s.MissionID, text, awakened)
		s.sendControl(map[string]interface{}{
			"type":     "listener_update",
			"awakened": awakened,
		})
	}

	s.signalWake()
}

// ReadyForNext 客户端播放完缓冲音频，提示可以继续
func (s *GameSession) ReadyForNext() {
	s.signalWake()
}

// awakenedGain 按发言长度折算唤醒的听众数
func awakenedGain(text string) int {
	gain := len(text) / 4
	if gain < 1 {
		gain = 1
	}
	if gain > maxAwakenedPerTurn {
		gain = maxAwakenedPerTurn
	}
	return gain
}

// clampAwakened 唤醒数不超过初始听众总数
func clampAwakened(n, total int) int {
	if n < 0 {
		return 0
	}
	if total > 0 && n > total {
		return total
	}
	return n
}

// listenerLoop 周期推送听众数并监测连接存活
func (s *GameSession) listenerLoop() {
	ticker := time.NewTicker(listenerTickInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.conns.IsRegistered(s.MissionID) {
			missed++
			if missed >= maxMissedTicks {
				utils.GetLogger().Infof("🔌 会话 %s 连接已断开，自动终止", s.MissionID)
				s.Stop()
				return
			}
			continue
		}
		missed = 0

		s.mu.Lock()
		awakened := s.awakened
		s.mu.Unlock()

		// 听众数带一点随机波动，模拟真实电台
		drift := rand.Intn(21) - 10
		listeners := s.mission.InitialListeners + drift - awakened
		if listeners < 0 {
			listeners = 0
		}

		s.sendControl(map[string]interface{}{
			"type":      "listener_update",
			"listeners": listeners,
			"awakened":  awakened,
		})
	}
}

// sendControl 下发一条控制消息，无连接时静默丢弃
func (s *GameSession) sendControl(message map[string]interface{}) {
	if err := s.conns.SendText(s.MissionID, message); err != nil {
		utils.GetLogger().Warnf("会话 %s 控制消息下发失败: %v", s.MissionID, err)
	}
}

// Stop 终止会话，可安全重复调用
func (s *GameSession) Stop() {
	s.stopOnce.Do(func() {
		utils.GetLogger().Infof("🛑 会话终止: %s", s.MissionID)

		s.mu.Lock()
		if s.speakCancel != nil {
			s.speakCancel()
			s.speakCancel = nil
		}
		transcriber := s.transcriber
		s.transcriber = nil
		s.mu.Unlock()

		if transcriber != nil {
			transcriber.Stop()
		}

		s.cancel()
		close(s.done)

		if s.OnStop != nil {
			s.OnStop()
		}
	})
}

// --- 状态快照（供接口层与测试观察） ---

// Mission 会话对应的任务（会话创建后不可变）
func (s *GameSession) Mission() *models.Mission {
	return s.mission
}

// State 当前状态
func (s *GameSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History 会话历史副本
func (s *GameSession) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// QueueLen 待播报台词数
func (s *GameSession) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Awakened 已唤醒的听众数
func (s *GameSession) Awakened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awakened
}
