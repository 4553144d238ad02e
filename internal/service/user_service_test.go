package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"go.uber.org/zap"
)

// Мок для репозитория пользователей
type MockUserRepository struct {
	mu     sync.Mutex
	users  map[uint]*models.UserAccount
	nextID uint
	err    error
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[uint]*models.UserAccount)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.PhoneNumber == user.PhoneNumber {
			return apperrors.Conflict("create_user", "phone number already registered")
		}
	}
	m.nextID++
	user.ID = m.nextID
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uint) (*models.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	user, exists := m.users[id]
	if !exists {
		return nil, apperrors.NotFound("get_user", "user not found")
	}
	copied := *user
	return &copied, nil
}

func (m *MockUserRepository) List(ctx context.Context) ([]models.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]models.UserAccount, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MockUserRepository) ListDue(ctx context.Context, now time.Time) ([]models.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	var due []models.UserAccount
	for _, u := range m.users {
		if u.IsDue(now) {
			due = append(due, *u)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (m *MockUserRepository) SetActive(ctx context.Context, id uint, active bool) (*models.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.users[id]
	if !exists {
		return nil, apperrors.NotFound("set_active", "user not found")
	}
	user.IsActive = active
	copied := *user
	return &copied, nil
}

func (m *MockUserRepository) ClaimCall(ctx context.Context, id uint, now time.Time, requireDue bool) (*models.UserAccount, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.users[id]
	if !exists {
		return nil, time.Time{}, apperrors.NotFound("claim_call", "user not found")
	}
	if !user.IsActive {
		return nil, time.Time{}, apperrors.Conflict("claim_call", "user is not active")
	}
	if requireDue && user.NextCallTime.After(now) {
		return nil, time.Time{}, apperrors.NotDue("claim_call")
	}
	previous := user.NextCallTime
	user.NextCallTime = now.Add(user.Interval())
	copied := *user
	return &copied, previous, nil
}

func (m *MockUserRepository) ReleaseClaim(ctx context.Context, id uint, claimed, previous time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user, exists := m.users[id]; exists && user.NextCallTime.Equal(claimed) {
		user.NextCallTime = previous
	}
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[id]; !exists {
		return apperrors.NotFound("delete_user", "user not found")
	}
	delete(m.users, id)
	return nil
}

// Мок для телефонии
type MockDialer struct {
	mu     sync.Mutex
	called []uint
	err    error
}

func (d *MockDialer) Dial(ctx context.Context, user *models.UserAccount) (models.CallResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.called = append(d.called, user.ID)
	if d.err != nil {
		return models.CallResult{}, d.err
	}
	return models.CallResult{SID: "CA-test", Status: "queued"}, nil
}

func (d *MockDialer) Calls() []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint(nil), d.called...)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupUserService(opts Options) (*UserService, *MockUserRepository, *MockDialer) {
	repo := NewMockUserRepository()
	dialer := &MockDialer{}
	svc := NewUserService(repo, dialer, zap.NewNop(), opts)
	svc.now = func() time.Time { return testNow }
	return svc, repo, dialer
}

func TestRegister_Validation(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{MinIntervalMinutes: 5})
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.RegisterRequest
	}{
		{"IntervalTooShort", models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 4, Personality: "strict"}},
		{"BadPhone", models.RegisterRequest{PhoneNumber: "call me", IntervalMinutes: 60}},
		{"TooShortPhone", models.RegisterRequest{PhoneNumber: "+1555", IntervalMinutes: 60}},
		{"UnknownPersonality", models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 60, Personality: "grumpy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			if apperrors.KindOf(err) != apperrors.KindValidation {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}

	if len(repo.users) != 0 || len(dialer.Calls()) != 0 {
		t.Error("Rejected registrations must not create users or place calls")
	}
}

func TestRegister_StrictHourlyScenario(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{MinIntervalMinutes: 5})

	resp, err := svc.Register(context.Background(), models.RegisterRequest{
		PhoneNumber:     "(555) 123-4567",
		IntervalMinutes: 60,
		Personality:     "Strict",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if resp.PhoneNumber != "+15551234567" || resp.Personality != models.PersonalityStrict {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.CallStatus != CallStatusInitiated {
		t.Errorf("unexpected call status %q", resp.CallStatus)
	}
	if calls := dialer.Calls(); len(calls) != 1 || calls[0] != resp.UserID {
		t.Errorf("Expected exactly one immediate call, got %v", calls)
	}

	stored := repo.users[resp.UserID]
	if !stored.IsActive {
		t.Error("Expected user to be active")
	}
	if want := testNow.Add(60 * time.Minute); !stored.NextCallTime.Equal(want) {
		t.Errorf("Expected next call at %v, got %v", want, stored.NextCallTime)
	}
}

func TestRegister_PersonalityRequired(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})

	for _, personality := range []string{"", "   "} {
		_, err := svc.Register(context.Background(), models.RegisterRequest{
			PhoneNumber:     "+15551234567",
			IntervalMinutes: 5,
			Personality:     personality,
		})
		if apperrors.KindOf(err) != apperrors.KindValidation {
			t.Errorf("Expected validation error for personality %q, got %v", personality, err)
		}
	}
	if len(repo.users) != 0 || len(dialer.Calls()) != 0 {
		t.Error("Registration without personality must not create users or place calls")
	}
}

func TestRegister_CallFailureKeepsUserDue(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})
	dialer.err = apperrors.Unavailable("create_call", errors.New("twilio down"))

	resp, err := svc.Register(context.Background(), models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "supportive"})
	if err != nil {
		t.Fatalf("Registration must succeed when the call fails: %v", err)
	}
	if !strings.HasPrefix(resp.CallStatus, "Registration successful but call failed") {
		t.Errorf("unexpected call status %q", resp.CallStatus)
	}
	if !repo.users[resp.UserID].IsDue(testNow) {
		t.Error("Expected user to stay due after failed call")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _, dialer := setupUserService(Options{})
	req := models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "supportive"}

	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	_, err := svc.Register(context.Background(), req)
	if apperrors.KindOf(err) != apperrors.KindConflict {
		t.Errorf("Expected conflict, got %v", err)
	}
	if len(dialer.Calls()) != 1 {
		t.Errorf("Expected only the first registration to call, got %v", dialer.Calls())
	}
}

func TestRegister_VerifiedNumberOnly(t *testing.T) {
	svc, _, _ := setupUserService(Options{VerifiedNumber: "+15550001111"})

	_, err := svc.Register(context.Background(), models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "supportive"})
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("Expected validation error for unverified number, got %v", err)
	}

	if _, err := svc.Register(context.Background(), models.RegisterRequest{PhoneNumber: "5550001111", IntervalMinutes: 30, Personality: "supportive"}); err != nil {
		t.Errorf("Expected verified number to register, got %v", err)
	}
}

func TestStartStop_KeepNextCallTime(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})
	ctx := context.Background()
	resp, _ := svc.Register(ctx, models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "supportive"})
	scheduled := repo.users[resp.UserID].NextCallTime

	stopped, err := svc.Stop(ctx, resp.UserID)
	if err != nil || stopped.IsActive {
		t.Fatalf("Stop failed: %+v %v", stopped, err)
	}
	if !stopped.NextCallTime.Equal(scheduled) {
		t.Error("Stop must not change next_call_time")
	}

	started, err := svc.Start(ctx, resp.UserID)
	if err != nil || !started.IsActive || !started.NextCallTime.Equal(scheduled) {
		t.Errorf("unexpected Start result %+v %v", started, err)
	}
	if len(dialer.Calls()) != 1 {
		t.Error("Start and Stop must not place calls")
	}

	if _, err := svc.Start(ctx, 999); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestTriggerNow(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})
	ctx := context.Background()
	resp, _ := svc.Register(ctx, models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "supportive"})

	later := testNow.Add(10 * time.Minute)
	svc.now = func() time.Time { return later }

	user, res, err := svc.TriggerNow(ctx, resp.UserID)
	if err != nil {
		t.Fatalf("TriggerNow failed: %v", err)
	}
	if res.SID != "CA-test" || user.PhoneNumber != "+15551234567" {
		t.Errorf("unexpected result %+v %+v", res, user)
	}
	if want := later.Add(30 * time.Minute); !repo.users[resp.UserID].NextCallTime.Equal(want) {
		t.Errorf("Expected next call at %v, got %v", want, repo.users[resp.UserID].NextCallTime)
	}
	if len(dialer.Calls()) != 2 {
		t.Errorf("Expected 2 calls, got %v", dialer.Calls())
	}

	if _, _, err := svc.TriggerNow(ctx, 999); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestTriggerNow_InactiveUser(t *testing.T) {
	svc, _, dialer := setupUserService(Options{})
	ctx := context.Background()
	resp, _ := svc.Register(ctx, models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "supportive"})
	_, _ = svc.Stop(ctx, resp.UserID)

	_, _, err := svc.TriggerNow(ctx, resp.UserID)
	if apperrors.KindOf(err) != apperrors.KindConflict {
		t.Errorf("Expected conflict, got %v", err)
	}
	if len(dialer.Calls()) != 1 {
		t.Error("Inactive user must not be called")
	}
}

func TestPlaceCall_UnverifiedNumber(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{VerifiedNumber: "+15550001111"})
	scheduled := testNow.Add(-time.Minute)
	repo.users[3] = &models.UserAccount{ID: 3, PhoneNumber: "+15551234567", IsActive: true, IntervalMinutes: 30, NextCallTime: scheduled}

	_, err := svc.PlaceCall(context.Background(), &models.UserAccount{ID: 3}, TriggerTick)
	if apperrors.KindOf(err) != apperrors.KindConflict {
		t.Errorf("Expected conflict, got %v", err)
	}
	if len(dialer.Calls()) != 0 {
		t.Error("Unverified number must not be dialled")
	}
	if !repo.users[3].NextCallTime.Equal(scheduled) {
		t.Error("Refused call must not move next_call_time")
	}
}

func TestPlaceCall_StoppedAfterDueUsers(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})
	ctx := context.Background()
	resp, _ := svc.Register(ctx, models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "strict"})

	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	due, err := svc.DueUsers(ctx, svc.now())
	if err != nil || len(due) != 1 {
		t.Fatalf("Expected one due user, got %v %v", due, err)
	}

	if _, err := svc.Stop(ctx, resp.UserID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PlaceCall(ctx, &due[0], TriggerTick); apperrors.KindOf(err) != apperrors.KindConflict {
		t.Errorf("Expected conflict for stopped user, got %v", err)
	}

	if _, err := svc.DeleteUser(ctx, resp.UserID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PlaceCall(ctx, &due[0], TriggerTick); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found for deleted user, got %v", err)
	}

	if calls := dialer.Calls(); len(calls) != 1 {
		t.Errorf("Expected only the registration call, got %v", calls)
	}
	if _, exists := repo.users[resp.UserID]; exists {
		t.Error("Expected user to stay deleted")
	}
}

func TestPlaceCall_TriggerNowThenStaleTick(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})
	ctx := context.Background()
	resp, _ := svc.Register(ctx, models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "strict"})

	later := testNow.Add(time.Hour)
	svc.now = func() time.Time { return later }
	due, _ := svc.DueUsers(ctx, later)
	if len(due) != 1 {
		t.Fatalf("Expected one due user, got %d", len(due))
	}

	if _, _, err := svc.TriggerNow(ctx, resp.UserID); err != nil {
		t.Fatalf("TriggerNow failed: %v", err)
	}
	_, err := svc.PlaceCall(ctx, &due[0], TriggerTick)
	if !errors.Is(err, apperrors.ErrNotDue) {
		t.Errorf("Expected stale scheduled call to be skipped, got %v", err)
	}

	if calls := dialer.Calls(); len(calls) != 2 {
		t.Errorf("Expected registration call plus one manual call, got %v", calls)
	}
	if want := later.Add(30 * time.Minute); !repo.users[resp.UserID].NextCallTime.Equal(want) {
		t.Errorf("Expected next call at %v, got %v", want, repo.users[resp.UserID].NextCallTime)
	}
}

func TestPlaceCall_ConcurrentPassesDialOnce(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})
	repo.users[1] = &models.UserAccount{ID: 1, PhoneNumber: "+15551234567", IsActive: true, IntervalMinutes: 30, NextCallTime: testNow}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.PlaceCall(context.Background(), &models.UserAccount{ID: 1}, TriggerTick)
		}()
	}
	wg.Wait()

	if calls := dialer.Calls(); len(calls) != 1 {
		t.Errorf("Expected a single dial, got %v", calls)
	}
}

func TestPlaceCall_DialFailureReleasesClaim(t *testing.T) {
	svc, repo, dialer := setupUserService(Options{})
	scheduled := testNow.Add(-10 * time.Minute)
	repo.users[1] = &models.UserAccount{ID: 1, PhoneNumber: "+15551234567", IsActive: true, IntervalMinutes: 30, NextCallTime: scheduled}
	dialer.err = apperrors.Unavailable("create_call", errors.New("twilio down"))

	if _, err := svc.PlaceCall(context.Background(), &models.UserAccount{ID: 1}, TriggerTick); err == nil {
		t.Fatal("Expected dial error")
	}
	if !repo.users[1].NextCallTime.Equal(scheduled) {
		t.Errorf("Expected next_call_time restored to %v, got %v", scheduled, repo.users[1].NextCallTime)
	}

	dialer.err = nil
	if _, err := svc.PlaceCall(context.Background(), &models.UserAccount{ID: 1}, TriggerTick); err != nil {
		t.Errorf("Expected retry on the next pass to succeed, got %v", err)
	}
	if len(dialer.Calls()) != 2 {
		t.Errorf("Expected two dial attempts, got %v", dialer.Calls())
	}
}

func TestDeleteUser(t *testing.T) {
	svc, _, _ := setupUserService(Options{})
	ctx := context.Background()
	resp, _ := svc.Register(ctx, models.RegisterRequest{PhoneNumber: "+15551234567", IntervalMinutes: 30, Personality: "supportive"})

	deleted, err := svc.DeleteUser(ctx, resp.UserID)
	if err != nil || deleted.PhoneNumber != "+15551234567" {
		t.Fatalf("DeleteUser failed: %+v %v", deleted, err)
	}
	if _, err := svc.GetUser(ctx, resp.UserID); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
	if _, err := svc.DeleteUser(ctx, resp.UserID); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}

	users, _ := svc.ListUsers(ctx)
	if len(users) != 0 {
		t.Errorf("Expected no users, got %d", len(users))
	}
}
