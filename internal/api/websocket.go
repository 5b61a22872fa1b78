// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Corphon/RadioMirchiMCP/internal/utils"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	// 发送队列长度；音频块填满队列时发送方阻塞以保持顺序
	sendQueueSize = 256
)

// wsMessage 发送队列中的一帧
type wsMessage struct {
	messageType int
	data        []byte
}

// wsTransport 包装一条 WebSocket 连接
// 所有写入经由单一写协程串行化，帧顺序与提交顺序一致
type wsTransport struct {
	conn   *websocket.Conn
	send   chan wsMessage
	closed int32 // 原子操作标志，0=开启，1=关闭
	done   chan struct{}
}

// newWSTransport 创建传输并启动写协程
func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn: conn,
		send: make(chan wsMessage, sendQueueSize),
		done: make(chan struct{}),
	}
	go t.writePump()
	return t
}

// writePump 串行写出所有帧并维持心跳
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case msg := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				utils.GetLogger().Warnf("WebSocket 写入失败: %v", err)
				t.Close()
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.Close()
				return
			}

		case <-t.done:
			return
		}
	}
}

// SendText 发送一条JSON控制消息
// 队列满时丢弃控制消息而不阻塞
func (t *wsTransport) SendText(message map[string]interface{}) error {
	if t.IsClosed() {
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case t.send <- wsMessage{messageType: websocket.TextMessage, data: data}:
	default:
		utils.GetLogger().Warnf("⚠️ WebSocket 发送队列已满，控制消息被丢弃")
	}
	return nil
}

// SendBytes 发送一块音频数据
// 队列满时阻塞等待，保持音频帧顺序不变
func (t *wsTransport) SendBytes(data []byte) error {
	if t.IsClosed() {
		return nil
	}

	select {
	case t.send <- wsMessage{messageType: websocket.BinaryMessage, data: data}:
		return nil
	case <-t.done:
		return nil
	}
}

// Close 安全关闭传输，可重复调用
func (t *wsTransport) Close() error {
	if atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		close(t.done)
		t.conn.Close()
	}
	return nil
}

// IsClosed 检查传输是否已关闭
func (t *wsTransport) IsClosed() bool {
	return atomic.LoadInt32(&t.closed) == 1
}
