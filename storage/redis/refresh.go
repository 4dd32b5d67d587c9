package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miren-dev/authbridge/domain"
)

// Families are stored as hashes; the opaque token index maps each issued
// token to its family ID. The whole rotation decision runs as one Lua script
// so concurrent rotations against a shared Redis serialize server-side and
// exactly one caller advances the family.
var rotateScript = redis.NewScript(`
local famID = redis.call('GET', KEYS[1])
if not famID then
  return {'notfound'}
end
local famKey = ARGV[3] .. ':family:' .. famID
if redis.call('EXISTS', famKey) == 0 then
  return {'notfound'}
end
if redis.call('HGET', famKey, 'revoked') == '1' then
  return {'revoked'}
end
if redis.call('HGET', famKey, 'current') ~= ARGV[1] then
  redis.call('HSET', famKey, 'revoked', '1')
  return {'replayed', redis.call('HGETALL', famKey)}
end
redis.call('HSET', famKey, 'current', ARGV[2])
redis.call('HINCRBY', famKey, 'generation', 1)
local ttl = redis.call('PTTL', famKey)
local nextKey = ARGV[3] .. ':rt:' .. ARGV[2]
if ttl > 0 then
  redis.call('SET', nextKey, famID, 'PX', ttl)
else
  redis.call('SET', nextKey, famID)
end
return {'ok', redis.call('HGETALL', famKey)}
`)

func (s *Store) CreateFamily(ctx context.Context, family *domain.RefreshTokenFamily, token string) error {
	ttl := time.Until(family.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token family %s already expired", family.ID)
	}

	famKey := s.familyKey(family.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, famKey, map[string]any{
		"id":         family.ID,
		"session_id": family.SessionID,
		"client_id":  family.ClientID,
		"generation": family.Generation,
		"revoked":    boolField(family.Revoked),
		"created_at": family.CreatedAt.Unix(),
		"expires_at": family.ExpiresAt.Unix(),
		"current":    token,
	})
	pipe.PExpire(ctx, famKey, ttl)
	pipe.Set(ctx, s.tokenKey(token), family.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create refresh token family: %w", err)
	}
	return nil
}

func (s *Store) RotateToken(ctx context.Context, presented, next string) (*domain.RefreshTokenFamily, error) {
	res, err := rotateScript.Run(ctx, s.client,
		[]string{s.tokenKey(presented)},
		presented, next, s.prefix,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("rotation script failed: %w", err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("unexpected rotation script reply %v", res)
	}

	switch reply[0] {
	case "notfound":
		return nil, domain.ErrTokenNotFound
	case "revoked":
		return nil, domain.ErrFamilyRevoked
	case "replayed":
		family, err := parseFamilyReply(reply[1])
		if err != nil {
			return nil, err
		}
		return family, domain.ErrTokenReplayed
	case "ok":
		return parseFamilyReply(reply[1])
	default:
		return nil, fmt.Errorf("unexpected rotation script status %v", reply[0])
	}
}

func (s *Store) GetFamilyByToken(ctx context.Context, token string) (*domain.RefreshTokenFamily, error) {
	familyID, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to resolve refresh token: %w", err)
	}
	family, err := s.GetFamily(ctx, familyID)
	if err != nil {
		if errors.Is(err, domain.ErrFamilyNotFound) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, err
	}
	if family.Revoked {
		return nil, domain.ErrFamilyRevoked
	}
	return family, nil
}

func (s *Store) GetFamily(ctx context.Context, id string) (*domain.RefreshTokenFamily, error) {
	fields, err := s.client.HGetAll(ctx, s.familyKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token family: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrFamilyNotFound
	}
	return familyFromFields(fields)
}

func (s *Store) RevokeFamily(ctx context.Context, id string) error {
	set, err := s.client.HSet(ctx, s.familyKey(id), "revoked", "1").Result()
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token family: %w", err)
	}
	// HSET on a missing key creates it; detect that and clean up.
	if set == 1 {
		exists, err := s.client.HExists(ctx, s.familyKey(id), "id").Result()
		if err == nil && !exists {
			s.client.Del(ctx, s.familyKey(id))
			return domain.ErrFamilyNotFound
		}
	}
	return nil
}

// parseFamilyReply converts the flattened HGETALL array a Lua script returns
// into a family.
func parseFamilyReply(raw any) (*domain.RefreshTokenFamily, error) {
	pairs, ok := raw.([]any)
	if !ok || len(pairs)%2 != 0 {
		return nil, errors.New("malformed family reply from rotation script")
	}
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		value, _ := pairs[i+1].(string)
		fields[key] = value
	}
	return familyFromFields(fields)
}

func familyFromFields(fields map[string]string) (*domain.RefreshTokenFamily, error) {
	generation, err := strconv.ParseInt(fields["generation"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed generation field: %w", err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed created_at field: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed expires_at field: %w", err)
	}

	return &domain.RefreshTokenFamily{
		ID:         fields["id"],
		SessionID:  fields["session_id"],
		ClientID:   fields["client_id"],
		Generation: generation,
		Revoked:    fields["revoked"] == "1",
		CreatedAt:  time.Unix(createdAt, 0),
		ExpiresAt:  time.Unix(expiresAt, 0),
	}, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

var _ domain.RefreshTokenStore = (*Store)(nil)
