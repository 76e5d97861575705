package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
)

// AccessTokenClaims 게임 서버 접속 토큰 내용.
// 서명되지 않은 base64 JSON이며 인증 수단이 아니다.
type AccessTokenClaims struct {
	PlayerID  string `json:"playerId"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// ConnectionParams WebSocket URL 쿼리 파라미터
type ConnectionParams struct {
	PlayerID      string
	DisplayName   string
	Rating        int
	IsProvisional bool
	Color         models.Color
}

var placeholderHosts = map[string]bool{
	"localhost":   true,
	"127.0.0.1":   true,
	"0.0.0.0":     true,
	"::1":         true,
	"example.com": true,
}

// ConnectionBuilder 매칭 결과에 담을 토큰과 게임 접속 URL 생성
type ConnectionBuilder struct {
	publicOrigin *url.URL
	tokenTTL     time.Duration
}

// NewConnectionBuilder publicOrigin은 http(s) 또는 ws(s) 절대 URL이어야 한다
func NewConnectionBuilder(publicOrigin string, tokenTTL time.Duration) (*ConnectionBuilder, error) {
	u, err := url.Parse(publicOrigin)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: public origin %q", ErrMalformedOrigin, publicOrigin)
	}
	if _, ok := websocketScheme(u.Scheme); !ok {
		return nil, fmt.Errorf("%w: public origin scheme %q", ErrMalformedOrigin, u.Scheme)
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}

	return &ConnectionBuilder{publicOrigin: u, tokenTTL: tokenTTL}, nil
}

// IssueAccessToken 플레이어별 접속 토큰 발급
func (b *ConnectionBuilder) IssueAccessToken(playerID string, now time.Time) (string, error) {
	data, err := json.Marshal(AccessTokenClaims{
		PlayerID:  playerID,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(b.tokenTTL).UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode access token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeAccessToken 토큰 내용 해석 (검증하지 않음)
func DecodeAccessToken(token string) (*AccessTokenClaims, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: access token encoding", ErrInvalidInput)
	}

	var claims AccessTokenClaims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("%w: access token body", ErrInvalidInput)
	}
	return &claims, nil
}

// WebSocketURL 게임 접속 URL 생성
//
// origin의 호스트가 로컬/내부 값이거나 포트가 없거나 기본 포트(80, 443)이면
// 공개 origin으로 바꾸고 포트를 제거한다. 포트 0이 남으면 ErrMalformedOrigin.
func (b *ConnectionBuilder) WebSocketURL(origin, roomID string, p ConnectionParams) (string, error) {
	base := b.publicOrigin
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil || u.Hostname() == "" {
			return "", fmt.Errorf("%w: %q", ErrMalformedOrigin, origin)
		}
		base = u
	}

	scheme, ok := websocketScheme(base.Scheme)
	if !ok {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedOrigin, base.Scheme)
	}

	host := base.Host
	if isPlaceholderHost(base.Hostname()) || isDefaultPort(base.Port()) {
		scheme, _ = websocketScheme(b.publicOrigin.Scheme)
		host = hostWithoutPort(b.publicOrigin.Hostname())
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   "/game/" + roomID + "/ws",
	}

	query := url.Values{}
	query.Set("playerId", p.PlayerID)
	query.Set("displayName", p.DisplayName)
	query.Set("rating", strconv.Itoa(p.Rating))
	query.Set("isProvisional", strconv.FormatBool(p.IsProvisional))
	query.Set("color", string(p.Color))
	u.RawQuery = query.Encode()

	if u.Port() == "0" {
		return "", fmt.Errorf("%w: zero port in %q", ErrMalformedOrigin, u.String())
	}
	return u.String(), nil
}

func websocketScheme(scheme string) (string, bool) {
	switch strings.ToLower(scheme) {
	case "http", "ws":
		return "ws", true
	case "https", "wss":
		return "wss", true
	}
	return "", false
}

func isPlaceholderHost(host string) bool {
	host = strings.ToLower(host)
	if placeholderHosts[host] {
		return true
	}
	return strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".local")
}

func isDefaultPort(port string) bool {
	return port == "" || port == "80" || port == "443"
}

// IPv6 리터럴은 대괄호가 필요하다
func hostWithoutPort(hostname string) string {
	if ip := net.ParseIP(hostname); ip != nil && ip.To4() == nil {
		return "[" + hostname + "]"
	}
	return hostname
}
