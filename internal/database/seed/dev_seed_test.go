package seed

import (
	"context"
	"errors"
	"testing"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"go.uber.org/zap"
)

type MockUserStore struct {
	users     map[string]*models.UserAccount
	lookupErr error
	created   int
}

func (m *MockUserStore) GetByPhone(ctx context.Context, phone string) (*models.UserAccount, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	if u, ok := m.users[phone]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("get_user_by_phone", "user not found")
}

func (m *MockUserStore) Create(ctx context.Context, user *models.UserAccount) error {
	m.created++
	user.ID = uint(m.created)
	m.users[user.PhoneNumber] = user
	return nil
}

func newSeeder(store *MockUserStore, appEnv string) *DevEnvironmentSeeder {
	s := NewDevEnvironmentSeeder(store, "+15551234567", zap.NewNop())
	s.env = func(string) string { return appEnv }
	return s
}

func TestSeedDemoUser(t *testing.T) {
	store := &MockUserStore{users: map[string]*models.UserAccount{}}
	s := newSeeder(store, "development")

	if err := s.SeedDemoUser(context.Background()); err != nil {
		t.Fatalf("SeedDemoUser failed: %v", err)
	}
	if err := s.SeedDemoUser(context.Background()); err != nil {
		t.Fatalf("second SeedDemoUser failed: %v", err)
	}

	if store.created != 1 {
		t.Errorf("Expected demo user to be created once, got %d", store.created)
	}
	demo := store.users["+15551234567"]
	if demo.IsActive {
		t.Error("Demo user must be created inactive")
	}
	if demo.Personality != models.PersonalitySupportive || demo.IntervalMinutes != 60 {
		t.Errorf("unexpected demo user %+v", demo)
	}
}

func TestSeedDemoUser_SkippedOutsideDevelopment(t *testing.T) {
	store := &MockUserStore{users: map[string]*models.UserAccount{}}

	if err := newSeeder(store, "production").SeedDemoUser(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.created != 0 {
		t.Error("Expected no users outside development")
	}
}

func TestSeedDemoUser_LookupFailure(t *testing.T) {
	store := &MockUserStore{users: map[string]*models.UserAccount{}, lookupErr: errors.New("connection refused")}

	if err := newSeeder(store, "development").SeedDemoUser(context.Background()); err == nil {
		t.Error("Expected lookup error to be returned")
	}
	if store.created != 0 {
		t.Error("Expected no create after failed lookup")
	}
}
