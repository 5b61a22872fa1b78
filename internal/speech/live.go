// internal/speech/live.go
package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LiveTranscription 管理到Deepgram的实时转写连接
// 累积所有最终转写片段，直到显式 Stop
type LiveTranscription struct {
	service *Service

	mu         sync.Mutex
	conn       *websocket.Conn
	active     bool
	transcript strings.Builder

	readDone chan struct{}
}

// NewLiveTranscriber 创建一个实时转写连接（尚未启动）
func (s *Service) NewLiveTranscriber() Transcriber {
	return &LiveTranscription{
		service:  s,
		readDone: make(chan struct{}),
	}
}

// Start 建立转写连接并启动接收协程
func (lt *LiveTranscription) Start(ctx context.Context) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if lt.active {
		return nil
	}

	params := url.Values{}
	params.Set("model", "nova-2")
	params.Set("language", "en-US")
	params.Set("smart_format", "true")
	params.Set("encoding", "linear16")
	params.Set("sample_rate", fmt.Sprintf("%d", STTSampleRate))

	header := http.Header{}
	header.Set("Authorization", "Token "+lt.service.apiKey)

	conn, _, err := lt.service.dialer.DialContext(ctx, lt.service.listenURL+"?"+params.Encode(), header)
	if err != nil {
		return fmt.Errorf("连接转写服务失败: %w", err)
	}

	lt.conn = conn
	lt.active = true
	lt.transcript.Reset()

	go lt.readLoop(conn)

	return nil
}

// readLoop 接收转写结果，累积最终片段
func (lt *LiveTranscription) readLoop(conn *websocket.Conn) {
	defer close(lt.readDone)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var result struct {
			Type    string `json:"type"`
			IsFinal bool   `json:"is_final"`
			Channel struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channel"`
		}

		if err := json.Unmarshal(message, &result); err != nil {
			continue
		}

		if len(result.Channel.Alternatives) == 0 {
			continue
		}

		text := result.Channel.Alternatives[0].Transcript
		if text == "" || !result.IsFinal {
			continue
		}

		lt.mu.Lock()
		lt.transcript.WriteString(text)
		lt.transcript.WriteString(" ")
		lt.mu.Unlock()
	}
}

// Send 转发一块用户音频，连接未激活时为静默no-op
func (lt *LiveTranscription) Send(chunk []byte) error {
	lt.mu.Lock()
	conn := lt.conn
	active := lt.active
	lt.mu.Unlock()

	if !active || conn == nil {
		return nil
	}

	return conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Stop 关闭连接并返回累积的转写文本
// 幂等；即使连接中断，也返回已累积的部分转写
func (lt *LiveTranscription) Stop() (string, error) {
	lt.mu.Lock()
	conn := lt.conn
	wasActive := lt.active
	lt.active = false
	lt.mu.Unlock()

	if wasActive && conn != nil {
		// 通知服务端刷出尾部结果
		closeMsg, _ := json.Marshal(map[string]string{"type": "CloseStream"})
		conn.WriteMessage(websocket.TextMessage, closeMsg)

		// 等待接收协程结束，给尾部结果一点时间
		select {
		case <-lt.readDone:
		case <-time.After(3 * time.Second):
		}

		conn.Close()
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	return strings.TrimSpace(lt.transcript.String()), nil
}

// 编译期确认接口实现
var _ Transcriber = (*LiveTranscription)(nil)
