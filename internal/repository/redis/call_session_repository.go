package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VoiceCoachService/internal/models"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "call:session:"

// CallSessionRepository хранит сессии звонков в Redis в виде JSON с TTL
type CallSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCallSessionRepository создает новый экземпляр CallSessionRepository
func NewCallSessionRepository(client *redis.Client, ttl time.Duration) *CallSessionRepository {
	return &CallSessionRepository{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(callSID string) string {
	return fmt.Sprintf("%s%s", sessionKeyPrefix, callSID)
}

// Save записывает сессию целиком и продлевает TTL
func (r *CallSessionRepository) Save(ctx context.Context, session *models.CallSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, sessionKey(session.CallSID), data, r.ttl).Err()
}

// Get читает сессию; отсутствующий ключ возвращает redis.Nil
func (r *CallSessionRepository) Get(ctx context.Context, callSID string) (*models.CallSession, error) {
	data, err := r.client.Get(ctx, sessionKey(callSID)).Bytes()
	if err != nil {
		return nil, err
	}

	var session models.CallSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}

	return &session, nil
}

// Delete удаляет сессию; удаление отсутствующей сессии не ошибка
func (r *CallSessionRepository) Delete(ctx context.Context, callSID string) error {
	return r.client.Del(ctx, sessionKey(callSID)).Err()
}
