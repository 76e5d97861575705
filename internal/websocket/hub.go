package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
)

const statsTimeout = 2 * time.Second

// StatsRecorder 연결/해제 기록 (StatsService)
type StatsRecorder interface {
	RecordConnect(ctx context.Context, playerID, connectionID string) error
	RecordDisconnect(ctx context.Context, connectionID string) error
}

// Hub 플레이어별 WebSocket 연결 관리 및 알림 전송
type Hub struct {
	// 플레이어별 연결 (playerID -> *Client), 플레이어당 하나
	clients map[string]*Client
	mu      sync.RWMutex

	broadcast chan *Message

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	recorder       StatsRecorder
	allowedOrigins map[string]bool
	logger         *zap.Logger
}

// Message WebSocket 메시지
type Message struct {
	PlayerID string      `json:"-"` // 수신자 (빈 문자열이면 전체 브로드캐스트)
	Type     string      `json:"type"`
	Payload  interface{} `json:"payload"`
}

// MatchFoundMessage 매칭 성사 힌트. 받으면 poll 하면 된다.
type MatchFoundMessage struct {
	Domain string `json:"domain"`
	RoomID string `json:"roomId"`
}

// NewHub Hub 생성. allowedOrigins가 비어 있으면 모든 origin 허용
func NewHub(recorder StatsRecorder, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		clients:        make(map[string]*Client),
		broadcast:      make(chan *Message, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		recorder:       recorder,
		allowedOrigins: origins,
		logger:         logger,
	}
}

// Run Hub 실행 (ctx 취소 시 모든 연결을 닫고 종료)
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

// registerClient 클라이언트 등록
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	oldClient, exists := h.clients[client.playerID]
	if exists {
		close(oldClient.send)
	}
	h.clients[client.playerID] = client
	total := len(h.clients)
	h.mu.Unlock()

	if exists {
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("playerId", client.playerID))
		h.recordDisconnect(oldClient)
	}

	h.recordConnect(client)
	h.logger.Info("WebSocket client registered",
		zap.String("playerId", client.playerID),
		zap.String("connectionId", client.connectionID),
		zap.Int("totalClients", total))
}

// unregisterClient 클라이언트 해제. 이미 새 연결로 교체되었다면 무시한다.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, exists := h.clients[client.playerID]
	if !exists || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.playerID)
	close(client.send)
	total := len(h.clients)
	h.mu.Unlock()

	h.recordDisconnect(client)
	h.logger.Info("WebSocket client unregistered",
		zap.String("playerId", client.playerID),
		zap.String("connectionId", client.connectionID),
		zap.Int("totalClients", total))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		h.recordDisconnect(client)
	}
}

// broadcastMessage 메시지 전송
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if message.PlayerID == "" {
		for _, client := range h.clients {
			select {
			case client.send <- message:
			default:
				// 채널이 가득 찬 경우 연결 해제
				h.logger.Warn("Client send channel full, unregistering",
					zap.String("playerId", client.playerID))
				go h.leave(client)
			}
		}
		return
	}

	if client, exists := h.clients[message.PlayerID]; exists {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send channel full",
				zap.String("playerId", message.PlayerID))
		}
	}
}

// leave 연결 종료 알림. Hub가 이미 멈췄으면 버린다.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToPlayer 특정 플레이어에게 메시지 전송
func (h *Hub) SendToPlayer(playerID string, msgType string, payload interface{}) {
	h.send(&Message{
		PlayerID: playerID,
		Type:     msgType,
		Payload:  payload,
	})
}

// Broadcast 모든 플레이어에게 메시지 전송
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	h.send(&Message{
		Type:    msgType,
		Payload: payload,
	})
}

func (h *Hub) send(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// DeliverMatchFound 연결된 플레이어에게 match_found 전달 (이벤트 버스 핸들러)
func (h *Hub) DeliverMatchFound(event distributed.MatchFoundEvent) {
	if !h.IsConnected(event.PlayerID) {
		return
	}
	h.SendToPlayer(event.PlayerID, "match_found", MatchFoundMessage{
		Domain: event.Domain,
		RoomID: event.RoomID,
	})
}

// PublishMatchFound 단일 인스턴스 배포에서 이벤트 버스 대신 사용
func (h *Hub) PublishMatchFound(_ context.Context, event distributed.MatchFoundEvent) error {
	h.DeliverMatchFound(event)
	return nil
}

// IsConnected 플레이어 연결 여부
func (h *Hub) IsConnected(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

// ClientCount 현재 연결 수
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) recordConnect(client *Client) {
	if h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	if err := h.recorder.RecordConnect(ctx, client.playerID, client.connectionID); err != nil {
		h.logger.Warn("Failed to record connection",
			zap.String("playerId", client.playerID),
			zap.Error(err))
	}
}

func (h *Hub) recordDisconnect(client *Client) {
	if h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	if err := h.recorder.RecordDisconnect(ctx, client.connectionID); err != nil {
		h.logger.Warn("Failed to record disconnection",
			zap.String("playerId", client.playerID),
			zap.Error(err))
	}
}
