package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessTokenClaims はIdPが発行するアクセストークンのクレーム。
type accessTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseAccessToken はアクセストークンのクレームを署名検証なしで読み取る。
// 署名の検証はトークンを受け取るバックエンドAPIが行う。
// クライアントは有効期限の把握とユーザー情報の補完にのみ使用する。
func parseAccessToken(token string) (*accessTokenClaims, error) {
	claims := &accessTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

// tokenExpiry はアクセストークンのexpクレームを返す。
// 読み取れない場合はゼロ値を返す。
func tokenExpiry(token string) time.Time {
	claims, err := parseAccessToken(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
