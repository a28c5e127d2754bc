package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/logger"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Handler 入站事件回调。Transport 保证 Close 返回后不再触发
type Handler func(models.Event)

// Options 传输层可调参数
type Options struct {
	// PollInterval 轮询通道周期，零值取5秒
	PollInterval time.Duration
	// Dialer 推送通道拨号器，零值取 websocket.DefaultDialer
	Dialer *websocket.Dialer
}

// Transport 双通道告警传输：WebSocket推送为主，HTTP轮询兜底。
// 两条通道的事件在派发前汇聚，消费方无需关心来源；
// 推送断开期间轮询继续推进水位，不会丢事件，只会放大延迟
type Transport struct {
	backend      Backend
	wsURL        string
	session      Session
	pollInterval time.Duration
	dialer       *websocket.Dialer

	mu         sync.Mutex
	handlers   map[models.EventKind]map[int]Handler
	nextID     int
	alertMark  time.Time // 告警流水位，只进不退
	updateMark time.Time // 响应者更新流水位
	conn       *websocket.Conn
	started    bool
	closed     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTransport 创建传输层，Connect 之前不产生任何网络活动
func NewTransport(backend Backend, wsURL string, session Session, opts Options) *Transport {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Transport{
		backend:      backend,
		wsURL:        wsURL,
		session:      session,
		pollInterval: opts.PollInterval,
		dialer:       opts.Dialer,
		handlers:     make(map[models.EventKind]map[int]Handler),
	}
}

// Connect 建立双通道。轮询通道总是启动；推送通道首次拨号失败时
// 返回连接错误，但后台会持续重连，调用方不应据此放弃传输层
func (t *Transport) Connect(ctx context.Context) error {
	if !t.session.Valid() {
		return errors.WithCode(errors.CodeAuthRequired, "no authenticated session")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	// 首次水位回看一个轮询周期，避免连接建立瞬间的事件被跳过
	now := time.Now()
	t.alertMark = now.Add(-t.pollInterval)
	t.updateMark = now.Add(-t.pollInterval)

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.pollLoop(runCtx)

	conn, err := t.dial(ctx)
	if err != nil {
		t.wg.Add(1)
		go t.pushLoop(runCtx, nil)
		return errors.Wrapf(err, "push channel unavailable, falling back to polling")
	}

	t.wg.Add(1)
	go t.pushLoop(runCtx, conn)
	return nil
}

// Subscribe 注册事件回调，返回用于退订的句柄
func (t *Transport) Subscribe(kind models.EventKind, h Handler) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	if t.handlers[kind] == nil {
		t.handlers[kind] = make(map[int]Handler)
	}
	t.handlers[kind][t.nextID] = h
	return t.nextID
}

// Unsubscribe 退订，重复调用为空操作。
// 已在派发途中的事件仍可能触发最后一次回调；
// 需要"不再有任何回调"的保证时用 Close
func (t *Transport) Unsubscribe(kind models.EventKind, id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers[kind], id)
}

// Close 关闭传输层并等待所有回调结束。返回后不会再有事件派发
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	t.wg.Wait()
	return nil
}

// dial 建立推送连接，携带会话身份
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-User-ID", t.session.UserID)
	if t.session.Token != "" {
		header.Set("Authorization", "Bearer "+t.session.Token)
	}
	conn, _, err := t.dialer.DialContext(ctx, t.wsURL, header)
	if err != nil {
		e := errors.Wrap(err, "dial push channel")
		e.Code = errors.CodeConnectionFailed
		return nil, e
	}
	return conn, nil
}

// pushLoop 维持推送连接：读消息直到出错，然后按指数退避重连。
// conn 为首次拨号已建立的连接，可为nil
func (t *Transport) pushLoop(ctx context.Context, conn *websocket.Conn) {
	defer t.wg.Done()

	delay := reconnectBaseDelay
	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			var err error
			conn, err = t.dial(ctx)
			if err != nil {
				logger.Debug("push reconnect failed", zap.Duration("next", delay), zap.Error(err))
				delay *= 2
				if delay > reconnectMaxDelay {
					delay = reconnectMaxDelay
				}
				continue
			}
			logger.Info("push channel reconnected")
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		delay = reconnectBaseDelay
		t.readConn(ctx, conn)

		t.mu.Lock()
		t.conn = nil
		closed := t.closed
		t.mu.Unlock()
		_ = conn.Close()
		conn = nil
		if closed || ctx.Err() != nil {
			return
		}
		logger.Warn("push channel lost, reconnecting")
	}
}

// inboundMessage 服务端推送消息，Data 按 Type 二次解码
type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// readConn 读取单条连接直到失败或取消
func (t *Transport) readConn(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("discard malformed push message", zap.Error(err))
			continue
		}
		ev, ok := t.decodePush(msg)
		if !ok {
			continue
		}
		t.dispatch(ev)
	}
}

// decodePush 将推送消息归一为事件
func (t *Transport) decodePush(msg inboundMessage) (models.Event, bool) {
	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.Unix(msg.Timestamp, 0)
	}
	switch msg.Type {
	case "new_alert", "alert_closed":
		var alert models.Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			logger.Warn("discard malformed alert payload", zap.Error(err))
			return models.Event{}, false
		}
		kind := models.EventNewAlert
		if msg.Type == "alert_closed" {
			kind = models.EventAlertClosed
		}
		return models.Event{Kind: kind, Alert: &alert, Timestamp: ts}, true
	case "responder_update":
		var update models.ResponderUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			logger.Warn("discard malformed responder payload", zap.Error(err))
			return models.Event{}, false
		}
		return models.Event{Kind: models.EventResponderUpdate, Update: &update, Timestamp: ts}, true
	default:
		return models.Event{}, false
	}
}

// pollLoop 周期性轮询兜底通道。单次失败只记录日志，下个周期重试
func (t *Transport) pollLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollOnce(ctx)
		}
	}
}

func (t *Transport) pollOnce(ctx context.Context) {
	t.mu.Lock()
	alertMark, updateMark := t.alertMark, t.updateMark
	t.mu.Unlock()

	alerts, err := t.backend.PollAlerts(ctx, t.session.UserID, alertMark)
	if err != nil {
		logger.Debug("alert poll failed", zap.Error(err))
	} else {
		for i := range alerts {
			alert := alerts[i]
			kind := models.EventNewAlert
			if !alert.Active() {
				kind = models.EventAlertClosed
			}
			// 服务端按更新时间过滤，水位必须跟随同一列推进，
			// 否则同一条告警会被反复拉取
			ts := alert.UpdatedAt
			if ts.IsZero() {
				ts = alert.CreatedAt
			}
			t.dispatch(models.Event{Kind: kind, Alert: &alert, Timestamp: ts})
		}
	}

	updates, err := t.backend.PollResponderUpdates(ctx, t.session.UserID, updateMark)
	if err != nil {
		logger.Debug("responder poll failed", zap.Error(err))
		return
	}
	for i := range updates {
		update := updates[i]
		t.dispatch(models.Event{Kind: models.EventResponderUpdate, Update: &update, Timestamp: update.Timestamp})
	}
}

// dispatch 推进水位并触发订阅回调。回调在锁外执行
func (t *Transport) dispatch(ev models.Event) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	switch ev.Kind {
	case models.EventNewAlert, models.EventAlertClosed:
		if ev.Timestamp.After(t.alertMark) {
			t.alertMark = ev.Timestamp
		}
	case models.EventResponderUpdate:
		if ev.Timestamp.After(t.updateMark) {
			t.updateMark = ev.Timestamp
		}
	}
	hs := make([]Handler, 0, len(t.handlers[ev.Kind]))
	for _, h := range t.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	t.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}
