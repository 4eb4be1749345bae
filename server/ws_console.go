package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"Bt2Deck/cache"
	"Bt2Deck/core/dj"
	"Bt2Deck/core/render"
	"Bt2Deck/logger"
	"Bt2Deck/model"
	"Bt2Deck/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	consoleWriteWait  = 5 * time.Second
	consoleSendBuffer = 32
)

// consoleCommand 控制台下发的命令
type consoleCommand struct {
	Action     string  `json:"action"`
	Deck       string  `json:"deck,omitempty"`
	TrackID    int64   `json:"track_id,omitempty"`
	Value      float64 `json:"value,omitempty"`
	PositionMs float64 `json:"position_ms,omitempty"`
	Velocity   float64 `json:"velocity,omitempty"`
	// scrub命令可改报像素位移，由服务端按当前滚动速度换算手势速度
	DeltaPx      float64 `json:"delta_px,omitempty"`
	DeltaSeconds float64 `json:"delta_seconds,omitempty"`
}

// consoleMessage 推送到控制台的消息信封
type consoleMessage struct {
	Type      string                 `json:"type"`
	State     *model.SessionSnapshot `json:"state,omitempty"`
	Frames    []render.Frame         `json:"frames,omitempty"`
	Schedules []dj.DropSchedule      `json:"schedules,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// consoleClient 一个控制台连接，写操作经send通道串行化
type consoleClient struct {
	conn *websocket.Conn
	send chan []byte
}

// ConsoleHub 一个会话的控制台集线器：接收引擎的状态与帧推送，
// 广播给所有连接的控制台，并把控制台命令分发到会话。
type ConsoleHub struct {
	mu      sync.RWMutex
	clients map[*consoleClient]bool

	session   *dj.Session
	trackRepo repository.TrackRepository
}

// NewConsoleHub 创建控制台集线器
func NewConsoleHub() *ConsoleHub {
	return &ConsoleHub{clients: make(map[*consoleClient]bool)}
}

// Attach 挂接会话与曲目仓库。会话创建时hub先于会话存在，故分两步。
func (h *ConsoleHub) Attach(session *dj.Session, trackRepo repository.TrackRepository) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = session
	h.trackRepo = trackRepo
}

// PublishState 实现 dj.FrameSink：广播状态快照并写入Redis
func (h *ConsoleHub) PublishState(snap model.SessionSnapshot) {
	h.broadcast(consoleMessage{Type: "state", State: &snap})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cache.SaveSessionState(ctx, snap)
}

// PublishFrames 实现 dj.FrameSink：广播可视帧
func (h *ConsoleHub) PublishFrames(frames []render.Frame) {
	h.broadcast(consoleMessage{Type: "frames", Frames: frames})
}

func (h *ConsoleHub) broadcast(msg consoleMessage) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.mu.RUnlock()
		logger.Error("控制台消息序列化失败", logger.ErrorField(err))
		return
	}
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 写不过来的慢连接直接丢帧
		}
	}
	h.mu.RUnlock()
}

// CloseAll 关闭全部控制台连接，会话销毁时调用
func (h *ConsoleHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *ConsoleHub) register(client *consoleClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *ConsoleHub) unregister(client *consoleClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

// ConsoleHandler 控制台WebSocket端点
func (h *APIHandler) ConsoleHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	session := h.manager.Get(sessionID)
	if session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err := h.authorizeControl(r, sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	h.hubMu.RLock()
	hub := h.hubs[sessionID]
	h.hubMu.RUnlock()
	if hub == nil {
		http.Error(w, "Session console unavailable", http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := &consoleClient{conn: conn, send: make(chan []byte, consoleSendBuffer)}
	hub.register(client)

	logger.Info("控制台已连接", logger.String("session", sessionID))

	// 连接后立即推一份当前状态
	snap := session.Snapshot()
	if data, err := json.Marshal(consoleMessage{Type: "state", State: &snap}); err == nil {
		client.send <- data
	}

	go client.writeLoop()
	hub.readLoop(client)
}

// writeLoop 把send通道里的消息写到连接
func (c *consoleClient) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readLoop 读取并分发控制台命令，连接断开后清理
func (h *ConsoleHub) readLoop(client *consoleClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd consoleCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendTo(client, consoleMessage{Type: "error", Error: "invalid command"})
			continue
		}
		h.dispatch(client, cmd)
	}
}

func (h *ConsoleHub) sendTo(client *consoleClient, msg consoleMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// dispatch 把一条控制台命令应用到会话
func (h *ConsoleHub) dispatch(client *consoleClient, cmd consoleCommand) {
	h.mu.RLock()
	session := h.session
	trackRepo := h.trackRepo
	h.mu.RUnlock()
	if session == nil {
		return
	}

	deckID := model.DeckID(cmd.Deck)

	switch cmd.Action {
	case "load":
		track, err := trackRepo.GetTrackByID(cmd.TrackID)
		if err != nil || track == nil {
			h.sendTo(client, consoleMessage{Type: "error", Error: "track not found"})
			return
		}
		// 波形在会话内异步装载，这里不能用随命令结束取消的context
		if err := session.LoadTrack(context.Background(), deckID, track); err != nil {
			h.sendTo(client, consoleMessage{Type: "error", Error: err.Error()})
		}
	case "toggle_play":
		session.TogglePlay(deckID)
	case "eject":
		session.Eject(deckID)
	case "set_master":
		session.SetMaster(deckID)
	case "crossfader":
		session.SetCrossfader(cmd.Value)
	case "toggle_sync":
		session.ToggleSync()
	case "toggle_quantize":
		session.ToggleQuantize()
	case "toggle_bass":
		session.ToggleBass(deckID)
	case "seek":
		session.Seek(deckID, cmd.PositionMs)
	case "scrub_start":
		session.StartScrub(deckID)
	case "scrub":
		if cmd.DeltaPx != 0 {
			session.ScrubPixels(deckID, cmd.PositionMs, cmd.DeltaPx, cmd.DeltaSeconds)
		} else {
			session.Scrub(deckID, cmd.PositionMs, cmd.Velocity)
		}
	case "scrub_end":
		session.EndScrub(deckID)
	case "sync_start":
		schedules, err := session.SyncStart()
		if err != nil {
			h.sendTo(client, consoleMessage{Type: "error", Error: err.Error()})
			return
		}
		h.broadcast(consoleMessage{Type: "drop", Schedules: schedules})
	default:
		logger.Debug("未知控制台命令", logger.String("action", cmd.Action))
		h.sendTo(client, consoleMessage{Type: "error", Error: "unknown action: " + cmd.Action})
	}
}
