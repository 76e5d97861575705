package models

import "time"

// Outcome join/poll 결과 (Matched | Waiting | Queued | NotInQueue)
type Outcome interface {
	outcome()
}

// Matched 호출자 쪽 매칭 결과 (또는 전달된 PendingMatch)
type Matched struct {
	RoomID                string
	Color                 Color
	OpponentID            string
	OpponentDisplayName   string
	OpponentRating        int
	OpponentIsProvisional bool
	AccessToken           string
	WebSocketURL          string
}

// Waiting join 직후 큐에 들어간 상태
type Waiting struct {
	QueuePosition int
	EstimatedWait time.Duration
}

// Queued poll 시점에 여전히 대기 중인 상태
type Queued struct {
	QueuePosition int
	TotalInQueue  int
	WaitTime      time.Duration
	RatingRange   RatingRange
	ExpiresIn     time.Duration
}

// NotInQueue 큐에도 없고 받을 결과도 없음
type NotInQueue struct{}

func (Matched) outcome()    {}
func (Waiting) outcome()    {}
func (Queued) outcome()     {}
func (NotInQueue) outcome() {}

// MatchedFromPending PendingMatch를 전달용 결과로 변환
func MatchedFromPending(p PendingMatch) Matched {
	return Matched{
		RoomID:                p.RoomID,
		Color:                 p.Color,
		OpponentID:            p.OpponentID,
		OpponentDisplayName:   p.OpponentDisplayName,
		OpponentRating:        p.OpponentRating,
		OpponentIsProvisional: p.OpponentIsProvisional,
		AccessToken:           p.AccessToken,
		WebSocketURL:          p.WebSocketURL,
	}
}
