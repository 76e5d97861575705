package service

import (
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
)

const (
	baseRatingWindow = 150
	maxRatingWindow  = 600
)

// RatingWindow 대기 시간에 따른 허용 레이팅 폭 (±delta)
//
//	wait < 10s        150
//	10s ≤ wait < 20s  150 + (wait-10)*10
//	20s ≤ wait < 25s  250 + (wait-20)*30
//	wait ≥ 25s        400 + (wait-25)*40, 최대 600
//
// 밀리초 정수 연산으로 계산하고 소수점 이하는 버린다.
func RatingWindow(wait time.Duration) int {
	ms := wait.Milliseconds()
	if ms < 0 {
		ms = 0
	}

	var delta int64
	switch {
	case ms < 10_000:
		delta = baseRatingWindow
	case ms < 20_000:
		delta = 150 + (ms-10_000)*10/1000
	case ms < 25_000:
		delta = 250 + (ms-20_000)*30/1000
	default:
		delta = 400 + (ms-25_000)*40/1000
	}

	if delta > maxRatingWindow {
		delta = maxRatingWindow
	}
	return int(delta)
}

// RatingRangeFor 레이팅과 대기 시간으로 허용 범위 계산
func RatingRangeFor(rating int, wait time.Duration) models.RatingRange {
	delta := RatingWindow(wait)
	return models.RatingRange{Min: rating - delta, Max: rating + delta}
}
