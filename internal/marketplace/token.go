package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token cache layout: one Redis hash per account, fields access_token,
// refresh_token, expire_date and refresh_expire_date. Dates are stored as
// local calendar days so a token issued today is valid through its expiry
// day inclusive.
const (
	tokenHashMain   = "mk_token"
	tokenHashPrefix = "mk_token_"
	tokenDateLayout = "2006-01-02"
)

type cachedToken struct {
	AccessToken       string
	RefreshToken      string
	ExpireDate        string
	RefreshExpireDate string
}

// tokenCache is the slice of the Redis API the store needs; satisfied by
// redis.Cmdable.
type tokenCache interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// TokenStore resolves gateway access tokens from Redis, refreshing them
// through the gateway when the access token has expired but the refresh
// token is still live. Initial authorization is a manual step; a missing
// or fully expired hash is an error, not something the store can recover.
type TokenStore struct {
	rdb    tokenCache
	client *Client
	now    func() time.Time
}

func NewTokenStore(rdb tokenCache, client *Client) *TokenStore {
	return &TokenStore{rdb: rdb, client: client, now: time.Now}
}

// AccessToken returns a live access token for the main account.
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return s.token(ctx, tokenHashMain)
}

// SubAccountToken returns a live access token for a named sub-account.
func (s *TokenStore) SubAccountToken(ctx context.Context, account string) (string, error) {
	return s.token(ctx, tokenHashPrefix+account)
}

func (s *TokenStore) token(ctx context.Context, key string) (string, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("marketplace: read token cache %s: %w", key, err)
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("marketplace: no token cached under %s, authorize the account first", key)
	}

	tok := cachedToken{
		AccessToken:       fields["access_token"],
		RefreshToken:      fields["refresh_token"],
		ExpireDate:        fields["expire_date"],
		RefreshExpireDate: fields["refresh_expire_date"],
	}

	today := s.now().Format(tokenDateLayout)
	if tok.ExpireDate >= today && tok.AccessToken != "" {
		return tok.AccessToken, nil
	}
	if tok.RefreshExpireDate < today || tok.RefreshToken == "" {
		return "", fmt.Errorf("marketplace: refresh token for %s expired on %s, reauthorize the account", key, tok.RefreshExpireDate)
	}
	return s.refresh(ctx, key, tok.RefreshToken)
}

type tokenPayload struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

func (s *TokenStore) refresh(ctx context.Context, key, refreshToken string) (string, error) {
	resp, err := s.client.Execute(ctx, "/auth/token/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, "")
	if err != nil {
		return "", fmt.Errorf("marketplace: refresh token for %s: %w", key, err)
	}

	var payload tokenPayload
	if err := resp.Decode(&payload); err != nil {
		return "", fmt.Errorf("marketplace: parse refreshed token for %s: %w", key, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("marketplace: refresh for %s returned no access token", key)
	}

	now := s.now()
	fields := map[string]any{
		"access_token": payload.AccessToken,
		"expire_date":  now.Add(time.Duration(payload.ExpiresIn) * time.Second).Format(tokenDateLayout),
	}
	if payload.RefreshToken != "" {
		fields["refresh_token"] = payload.RefreshToken
		fields["refresh_expire_date"] = now.Add(time.Duration(payload.RefreshExpiresIn) * time.Second).Format(tokenDateLayout)
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return "", fmt.Errorf("marketplace: store refreshed token for %s: %w", key, err)
	}
	return payload.AccessToken, nil
}
