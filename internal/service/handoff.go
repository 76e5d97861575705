package service

import (
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
)

// handoffBox 매칭을 직접 발견하지 못한 플레이어에게 결과를 한 번만 전달하는 우편함.
// playerId당 최대 하나이며 take 하는 순간 삭제된다.
type handoffBox struct {
	pending map[string]models.PendingMatch
}

func newHandoffBox(pending map[string]models.PendingMatch) handoffBox {
	box := handoffBox{pending: make(map[string]models.PendingMatch, len(pending))}
	for id, p := range pending {
		box.pending[id] = p
	}
	return box
}

func (h handoffBox) put(p models.PendingMatch) {
	h.pending[p.PlayerID] = p
}

// take 유효한 PendingMatch를 꺼내고 삭제한다. 만료된 항목은 삭제만 한다.
func (h handoffBox) take(playerID string, now time.Time) (models.PendingMatch, bool) {
	p, ok := h.pending[playerID]
	if !ok {
		return models.PendingMatch{}, false
	}
	delete(h.pending, playerID)

	if p.Expired(now) {
		return models.PendingMatch{}, false
	}
	return p, true
}

func (h handoffBox) has(playerID string) bool {
	_, ok := h.pending[playerID]
	return ok
}

func (h handoffBox) sweep(now time.Time) int {
	removed := 0
	for id, p := range h.pending {
		if p.Expired(now) {
			delete(h.pending, id)
			removed++
		}
	}
	return removed
}

func (h handoffBox) len() int {
	return len(h.pending)
}

func (h handoffBox) clone() handoffBox {
	return newHandoffBox(h.pending)
}
