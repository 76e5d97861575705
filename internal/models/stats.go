package models

import "time"

// PlayerConnection 활성 연결 테이블 행
type PlayerConnection struct {
	ConnectionID string    `db:"connection_id" json:"connectionId"`
	PlayerID     string    `db:"player_id" json:"playerId"`
	ConnectedAt  time.Time `db:"connected_at" json:"connectedAt"`
}

// GameRecord 게임 생성 이력 테이블 행
type GameRecord struct {
	GameID    string    `db:"game_id" json:"gameId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
