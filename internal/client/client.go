// Package client 实现 OneBot v11 正向 WebSocket 客户端（NapCat 宿主），
// 提供消息历史拉取与媒体取数原语。
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 * 1024 // 批量历史带内联资源字段，上限放宽

	// 单次 action 的默认应答超时。
	defaultCallTimeout = 30 * time.Second
)

// wsRequest OneBot action 帧。
type wsRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

// wsResponse OneBot 应答帧。事件推送无 echo，被读泵丢弃。
type wsResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

// Options 连接参数。
type Options struct {
	URL         string        // ws://host:port
	AccessToken string        // 可空
	CallTimeout time.Duration // 0 取默认
}

// Client 与宿主的单连接客户端。请求经 echo（uuid）与应答配对，
// 并发调用安全；写经互斥串行化（gorilla 连接只允许单写者）。
type Client struct {
	opts Options
	log  zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *wsResponse
	closed  bool
	done    chan struct{}
}

// Dial 建立连接并启动读泵。
func Dial(ctx context.Context, opts Options, log zerolog.Logger) (*Client, error) {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}

	header := http.Header{}
	if opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+opts.AccessToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", opts.URL, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	c := &Client{
		opts:    opts,
		log:     log,
		conn:    conn,
		pending: make(map[string]chan *wsResponse),
		done:    make(chan struct{}),
	}
	go c.readPump()
	go c.pingLoop()
	c.log.Info().Str("url", opts.URL).Msg("host connected")
	return c, nil
}

// Close 关闭连接并唤醒所有在途调用。幂等。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	for echo, ch := range c.pending {
		close(ch)
		delete(c.pending, echo)
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// call 发送一个 action 并等待配对应答。
func (c *Client) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	echo := uuid.New().String()
	ch := make(chan *wsResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client closed")
	}
	c.pending[echo] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, echo)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(wsRequest{Action: action, Params: params, Echo: echo}); err != nil {
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: connection closed", action)
		}
		if resp.Status == "failed" || (resp.Retcode != 0 && resp.Status != "async") {
			reason := resp.Message
			if reason == "" {
				reason = resp.Wording
			}
			return nil, &actionError{Action: action, Retcode: resp.Retcode, Reason: reason}
		}
		return resp.Data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: timed out after %s", action, c.opts.CallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("%s: client closed", action)
	}
}

// callInto call 并把 data 解码到 target。
func (c *Client) callInto(ctx context.Context, action string, params, target any) error {
	data, err := c.call(ctx, action, params)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%s: empty response data", action)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// readPump 读取应答并按 echo 派发。无 echo 的事件帧直接忽略。
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("websocket read error")
			}
			return
		}

		var resp wsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.Debug().Err(err).Msg("unparseable frame dropped")
			continue
		}
		if resp.Echo == "" {
			continue // 事件推送
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.Echo]
		if ok {
			delete(c.pending, resp.Echo)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// actionError 宿主侧拒绝的 action。
type actionError struct {
	Action  string
	Retcode int
	Reason  string
}

func (e *actionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s failed: retcode %d: %s", e.Action, e.Retcode, e.Reason)
	}
	return fmt.Sprintf("%s failed: retcode %d", e.Action, e.Retcode)
}

// LoginInfo 当前登录账号。
type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// GetLoginInfo 廉价的已知良好探测，也供健康检查复用。
func (c *Client) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	var info LoginInfo
	if err := c.callInto(ctx, "get_login_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Probe 健康探针入口。
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.GetLoginInfo(ctx)
	return err
}
