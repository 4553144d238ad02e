// Package memory хранит сессии звонков в памяти процесса.
// Используется по умолчанию, когда сервис работает одним экземпляром без Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/server"
)

const backendName = "memory"

type entry struct {
	session   models.CallSession
	expiresAt time.Time
}

// CallSessionRepository потокобезопасное хранилище с ленивым истечением TTL
type CallSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
	now      func() time.Time
}

// NewCallSessionRepository создает хранилище; ttl <= 0 отключает истечение
func NewCallSessionRepository(ttl time.Duration) *CallSessionRepository {
	return &CallSessionRepository{
		sessions: make(map[string]entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Save сохраняет копию сессии и продлевает TTL
func (r *CallSessionRepository) Save(ctx context.Context, session *models.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := entry{session: cloneSession(session)}
	if r.ttl > 0 {
		e.expiresAt = r.now().Add(r.ttl)
	}
	r.sessions[session.CallSID] = e
	r.sweepLocked()

	server.RecordSessionOperation(backendName, "save_session", nil)
	return nil
}

// Get возвращает копию сессии или ошибку KindNotFound
func (r *CallSessionRepository) Get(ctx context.Context, callSID string) (*models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[callSID]
	if ok && r.expiredLocked(e) {
		delete(r.sessions, callSID)
		ok = false
	}
	server.RecordSessionOperation(backendName, "get_session", nil)
	if !ok {
		return nil, apperrors.NotFound("get_session", "call session not found")
	}

	s := cloneSession(&e.session)
	return &s, nil
}

// Delete удаляет сессию; отсутствие сессии не ошибка
func (r *CallSessionRepository) Delete(ctx context.Context, callSID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, callSID)
	server.RecordSessionOperation(backendName, "delete_session", nil)
	return nil
}

// Len количество неистекших сессий
func (r *CallSessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	return len(r.sessions)
}

func (r *CallSessionRepository) expiredLocked(e entry) bool {
	return !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt)
}

// sweepLocked удаляет истекшие сессии, брошенные без hangup
func (r *CallSessionRepository) sweepLocked() {
	for sid, e := range r.sessions {
		if r.expiredLocked(e) {
			delete(r.sessions, sid)
		}
	}
}

func cloneSession(s *models.CallSession) models.CallSession {
	c := *s
	c.Transcript = append([]models.Turn(nil), s.Transcript...)
	return c
}
