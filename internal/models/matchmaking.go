package models

import "time"

type GameMode string

const (
	GameModeBullet    GameMode = "bullet"
	GameModeBlitz     GameMode = "blitz"
	GameModeRapid     GameMode = "rapid"
	GameModeClassical GameMode = "classical"
)

// Valid 지원하는 게임 모드인지 확인
func (m GameMode) Valid() bool {
	switch m {
	case GameModeBullet, GameModeBlitz, GameModeRapid, GameModeClassical:
		return true
	}
	return false
}

type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

// Opposite 상대편 색
func (c Color) Opposite() Color {
	if c == ColorWhite {
		return ColorBlack
	}
	return ColorWhite
}

// JoinRequest 매칭 큐 참가 요청
type JoinRequest struct {
	PlayerID      string    `json:"playerId"`
	DisplayName   string    `json:"displayName"`
	Rating        int       `json:"rating"`
	IsProvisional bool      `json:"isProvisional"`
	GameMode      GameMode  `json:"gameMode"`
	JoinedAt      time.Time `json:"joinedAt"`
	Origin        string    `json:"origin,omitempty"`
}

// QueueEntry 대기 중인 플레이어 (도메인당 playerId 하나)
type QueueEntry struct {
	PlayerID      string    `json:"playerId"`
	DisplayName   string    `json:"displayName"`
	Rating        int       `json:"rating"`
	IsProvisional bool      `json:"isProvisional"`
	GameMode      GameMode  `json:"gameMode"`
	JoinedAt      time.Time `json:"joinedAt"`
	MinRating     int       `json:"minRating"`
	MaxRating     int       `json:"maxRating"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Origin        string    `json:"origin,omitempty"`
}

// Expired 만료 여부
func (e QueueEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// PendingMatch 매칭을 직접 발견하지 못한 쪽에게 전달할 결과 (1회 전달)
type PendingMatch struct {
	PlayerID              string    `json:"playerId"`
	RoomID                string    `json:"roomId"`
	Color                 Color     `json:"color"`
	OpponentID            string    `json:"opponentId"`
	OpponentDisplayName   string    `json:"opponentDisplayName"`
	OpponentRating        int       `json:"opponentRating"`
	OpponentIsProvisional bool      `json:"opponentIsProvisional"`
	AccessToken           string    `json:"accessToken"`
	WebSocketURL          string    `json:"webSocketUrl"`
	CreatedAt             time.Time `json:"createdAt"`
	ExpiresAt             time.Time `json:"expiresAt"`
}

// Expired 만료 여부
func (p PendingMatch) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// QueueSnapshot 도메인 상태 저장 문서
type QueueSnapshot struct {
	Domain    string                  `json:"domain"`
	Entries   []QueueEntry            `json:"entries"`
	Pending   map[string]PendingMatch `json:"pending"`
	UpdatedAt time.Time               `json:"updatedAt"`
	// Version 저장될 때마다 1씩 증가
	Version int64 `json:"version"`
}

// RatingRange 현재 허용 레이팅 범위 (양 끝 포함)
type RatingRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains 범위 안에 있는지 확인
func (r RatingRange) Contains(rating int) bool {
	return rating >= r.Min && rating <= r.Max
}

// QueueInfo 진단용 큐 스냅샷
type QueueInfo struct {
	Domain    string         `json:"domain"`
	QueueSize int            `json:"queueSize"`
	Players   []QueuedPlayer `json:"players"`
}

type QueuedPlayer struct {
	GameMode  GameMode      `json:"gameMode"`
	Rating    int           `json:"rating"`
	WaitTime  time.Duration `json:"-"`
	ExpiresIn time.Duration `json:"-"`
}

// MatchCreated 매칭 성립 기록 (커밋 이후 후처리용)
type MatchCreated struct {
	Domain    string
	RoomID    string
	GameMode  GameMode
	Caller    QueueEntry
	Opponent  QueueEntry
	WaitTime  time.Duration
	CreatedAt time.Time
}
