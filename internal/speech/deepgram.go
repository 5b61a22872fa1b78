// internal/speech/deepgram.go
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// 音频参数，与客户端播放端约定一致
const (
	// TTSSampleRate 合成输出采样率 (linear16, 单声道)
	TTSSampleRate = 24000
	// STTSampleRate 用户语音输入采样率
	STTSampleRate = 16000
)

// --- Aura-2 音色池 ---
var maleVoices = []string{
	"aura-2-odysseus-en", "aura-2-apollo-en", "aura-2-arcas-en", "aura-2-aries-en",
	"aura-2-atlas-en", "aura-2-draco-en", "aura-2-hermes-en", "aura-2-hyperion-en",
	"aura-2-jupiter-en", "aura-2-mars-en", "aura-2-neptune-en", "aura-2-orion-en",
	"aura-2-orpheus-en", "aura-2-pluto-en", "aura-2-saturn-en", "aura-2-zeus-en",
}

var femaleVoices = []string{
	"aura-2-thalia-en", "aura-2-amalthea-en", "aura-2-andromeda-en", "aura-2-asteria-en",
	"aura-2-athena-en", "aura-2-aurora-en", "aura-2-callista-en", "aura-2-cora-en",
	"aura-2-cordelia-en", "aura-2-delia-en", "aura-2-electra-en", "aura-2-harmonia-en",
	"aura-2-helena-en", "aura-2-hera-en", "aura-2-iris-en", "aura-2-janus-en",
	"aura-2-juno-en", "aura-2-luna-en", "aura-2-minerva-en", "aura-2-ophelia-en",
	"aura-2-pandora-en", "aura-2-phoebe-en", "aura-2-selene-en", "aura-2-theia-en",
	"aura-2-vesta-en",
}

// AudioStream 拉取式有限音频字节流
// 调用方循环调用 Next 直到 io.EOF，随时可以 Close 放弃剩余数据
type AudioStream interface {
	Next() ([]byte, error)
	Close() error
}

// Transcriber 实时语音转写连接
// Stop 返回到目前为止累积的最终转写文本（可能为空）
type Transcriber interface {
	Start(ctx context.Context) error
	Send(chunk []byte) error
	Stop() (string, error)
}

// Service 封装Deepgram的语音合成与实时转写API
type Service struct {
	apiKey    string
	client    *http.Client
	dialer    *websocket.Dialer
	ttsURL    string
	listenURL string
}

// NewService 创建语音服务
func NewService(apiKey string) *Service {
	return &Service{
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 60 * time.Second},
		dialer:    websocket.DefaultDialer,
		ttsURL:    "https://api.deepgram.com/v1/speak",
		listenURL: "wss://api.deepgram.com/v1/listen",
	}
}

// NewServiceWithEndpoints 创建指向自定义端点的语音服务（测试用）
func NewServiceWithEndpoints(apiKey, ttsURL, listenURL string) *Service {
	s := NewService(apiKey)
	s.ttsURL = ttsURL
	s.listenURL = listenURL
	s.client.Timeout = 0
	return s
}

// pickVoice 按性别随机挑选一个音色
func pickVoice(gender string) string {
	if strings.EqualFold(gender, "male") {
		return maleVoices[rand.Intn(len(maleVoices))]
	}
	return femaleVoices[rand.Intn(len(femaleVoices))]
}

// SpeakStream 合成一条台词，返回可随时放弃的音频流
// 输出为原始PCM (linear16, 24000Hz, 单声道)
func (s *Service) SpeakStream(ctx context.Context, text, gender string) (AudioStream, error) {
	model := pickVoice(gender)

	params := url.Values{}
	params.Set("model", model)
	params.Set("encoding", "linear16")
	params.Set("sample_rate", fmt.Sprintf("%d", TTSSampleRate))

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.ttsURL+"?"+params.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS请求失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("TTS API错误(%d): %s", resp.StatusCode, string(body))
	}

	return &ttsStream{body: resp.Body}, nil
}

// ttsStream 包装HTTP响应体为拉取式音频流
type ttsStream struct {
	body io.ReadCloser
}

// Next 读取下一块音频数据，流结束时返回 io.EOF
func (t *ttsStream) Next() ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := t.body.Read(buf)
	if n > 0 {
		// Read 可能同时返回数据和EOF，先交付数据
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// Close 放弃剩余音频数据
func (t *ttsStream) Close() error {
	return t.body.Close()
}
