package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"VoiceCoachService/internal/call"
	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type mockUserService struct {
	users       map[uint]*models.UserAccount
	registerErr error
	triggerErr  error
	lastReq     models.RegisterRequest
}

func newMockUserService() *mockUserService {
	return &mockUserService{users: map[uint]*models.UserAccount{
		1: {ID: 1, PhoneNumber: "+15551234567", IntervalMinutes: 60, Personality: models.PersonalityStrict, IsActive: true},
	}}
}

func (m *mockUserService) get(id uint) (*models.UserAccount, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("get_user", "user not found")
}

func (m *mockUserService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	m.lastReq = req
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &models.RegisterResponse{UserID: 2, PhoneNumber: req.PhoneNumber, IntervalMinutes: req.IntervalMinutes,
		Personality: models.Personality(req.Personality), CallStatus: "Call initiated - you should receive it shortly!"}, nil
}

func (m *mockUserService) Start(ctx context.Context, id uint) (*models.UserAccount, error) {
	return m.get(id)
}

func (m *mockUserService) Stop(ctx context.Context, id uint) (*models.UserAccount, error) {
	return m.get(id)
}

func (m *mockUserService) TriggerNow(ctx context.Context, id uint) (*models.UserAccount, models.CallResult, error) {
	u, err := m.get(id)
	if err != nil {
		return nil, models.CallResult{}, err
	}
	if m.triggerErr != nil {
		return nil, models.CallResult{}, m.triggerErr
	}
	return u, models.CallResult{SID: "CA1", Status: "queued"}, nil
}

func (m *mockUserService) DeleteUser(ctx context.Context, id uint) (*models.UserAccount, error) {
	u, err := m.get(id)
	if err != nil {
		return nil, err
	}
	delete(m.users, id)
	return u, nil
}

func (m *mockUserService) GetUser(ctx context.Context, id uint) (*models.UserAccount, error) {
	return m.get(id)
}

func (m *mockUserService) ListUsers(ctx context.Context) ([]models.UserAccount, error) {
	var out []models.UserAccount
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

type mockCallHandler struct {
	events   []call.Event
	speech   []call.Utterance
	hangups  []string
	panicked bool
}

func (m *mockCallHandler) OnCallAnswered(ctx context.Context, ev call.Event) call.Instructions {
	m.events = append(m.events, ev)
	return call.Instructions{Lines: []string{"hello"}, Capture: call.CaptureRecording, UserID: ev.UserID}
}

func (m *mockCallHandler) OnSpeechCaptured(ctx context.Context, ev call.Event, u call.Utterance) call.Instructions {
	if m.panicked {
		panic("boom")
	}
	m.events = append(m.events, ev)
	m.speech = append(m.speech, u)
	return call.Hangup("bye")
}

func (m *mockCallHandler) OnHangup(ctx context.Context, callSID string) {
	m.hangups = append(m.hangups, callSID)
}

// plainRenderer склеивает реплики, чтобы проверять маршрутизацию без зависимости от TwiML
type plainRenderer struct {
	err error
}

func (r plainRenderer) Render(ins call.Instructions) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "<Response>" + strings.Join(ins.Lines, "|") + "</Response>", nil
}

func setupRouter(users *mockUserService, calls *mockCallHandler, renderer Renderer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(users, calls, renderer, zap.NewNop())
	return NewRouter(h, zap.NewNop(), []string{"*"})
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", w.Body.String(), err)
	}
	return resp.Detail
}

func TestRegister(t *testing.T) {
	users := newMockUserService()
	r := setupRouter(users, &mockCallHandler{}, plainRenderer{})

	w := doJSON(r, http.MethodPost, "/register", map[string]interface{}{
		"phone_number": "+15559876543", "interval_minutes": 60, "personality": "strict",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.RegisterResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.UserID != 2 || resp.CallStatus == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if users.lastReq.IntervalMinutes != 60 || users.lastReq.Personality != "strict" {
		t.Errorf("unexpected request %+v", users.lastReq)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected request id header")
	}
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"Validation", apperrors.Validation("register", "interval_minutes must be at least 5"), http.StatusBadRequest, "interval_minutes must be at least 5"},
		{"Conflict", apperrors.Conflict("create_user", "phone number already registered"), http.StatusConflict, "phone number already registered"},
		{"Unavailable", apperrors.Unavailable("create_user", errors.New("dial tcp")), http.StatusServiceUnavailable, "upstream service unavailable"},
		{"Internal", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMockUserService()
			users.registerErr = tt.err
			r := setupRouter(users, &mockCallHandler{}, plainRenderer{})

			w := doJSON(r, http.MethodPost, "/register", map[string]interface{}{"phone_number": "+15559876543", "interval_minutes": 4})
			if w.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, w.Code)
			}
			if got := decodeDetail(t, w); got != tt.detail {
				t.Errorf("Expected detail %q, got %q", tt.detail, got)
			}
		})
	}

	r := setupRouter(newMockUserService(), &mockCallHandler{}, plainRenderer{})
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}
}

func TestUserActions(t *testing.T) {
	tests := []struct {
		path    string
		message string
	}{
		{"/start", "Scheduling activated for user 1"},
		{"/stop", "Scheduling deactivated for user 1"},
		{"/call-now", "Call initiated to +15551234567. Check your phone!"},
		{"/delete-user", "User +15551234567 deleted successfully"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := setupRouter(newMockUserService(), &mockCallHandler{}, plainRenderer{})

			w := doJSON(r, http.MethodPost, tt.path, map[string]uint{"user_id": 1})
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
			}
			var resp models.MessageResponse
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Message != tt.message {
				t.Errorf("Expected %q, got %q", tt.message, resp.Message)
			}

			if w := doJSON(r, http.MethodPost, tt.path, map[string]uint{"user_id": 99}); w.Code != http.StatusNotFound {
				t.Errorf("Expected 404 for unknown user, got %d", w.Code)
			}
			if w := doJSON(r, http.MethodPost, tt.path, map[string]string{}); w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400 without user_id, got %d", w.Code)
			}
		})
	}
}

func TestCallNow_InactiveUser(t *testing.T) {
	users := newMockUserService()
	users.triggerErr = apperrors.Conflict("place_call", "user is not active")
	r := setupRouter(users, &mockCallHandler{}, plainRenderer{})

	w := doJSON(r, http.MethodPost, "/call-now", map[string]uint{"user_id": 1})
	if w.Code != http.StatusConflict || decodeDetail(t, w) != "user is not active" {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestListAndGetUsers(t *testing.T) {
	r := setupRouter(newMockUserService(), &mockCallHandler{}, plainRenderer{})

	w := doJSON(r, http.MethodGet, "/users", nil)
	var list []models.UserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 || list[0].UserID != 1 {
		t.Errorf("unexpected list %s", w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/users/1", nil)
	var one models.UserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &one); err != nil || one.Personality != models.PersonalityStrict {
		t.Errorf("unexpected user %s", w.Body.String())
	}

	if w := doJSON(r, http.MethodGet, "/users/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/users/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestTwilioCallWebhook(t *testing.T) {
	calls := &mockCallHandler{}
	r := setupRouter(newMockUserService(), calls, plainRenderer{})

	w := doForm(r, "/twilio-call?user_id=1", url.Values{
		"CallSid": {"CA1"}, "Direction": {"outbound-api"}, "From": {"+15550000000"}, "To": {"+15551234567"},
	})

	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xmlContentType {
		t.Fatalf("unexpected response %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if w.Body.String() != "<Response>hello</Response>" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
	want := call.Event{CallSID: "CA1", UserID: 1, Direction: "outbound-api", From: "+15550000000", To: "+15551234567"}
	if len(calls.events) != 1 || calls.events[0] != want {
		t.Errorf("unexpected event %+v", calls.events)
	}
}

func TestSpeechWebhooks(t *testing.T) {
	calls := &mockCallHandler{}
	r := setupRouter(newMockUserService(), calls, plainRenderer{})

	doForm(r, "/twilio-recording", url.Values{"CallSid": {"CA1"}, "RecordingUrl": {"https://api.twilio.com/RE1"}})
	doForm(r, "/twilio-response", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"I wrote tests"}})

	if len(calls.speech) != 2 {
		t.Fatalf("Expected 2 speech events, got %d", len(calls.speech))
	}
	if !calls.speech[0].Recorded || calls.speech[0].RecordingURL != "https://api.twilio.com/RE1" {
		t.Errorf("unexpected recording utterance %+v", calls.speech[0])
	}
	if calls.speech[1].Recorded || calls.speech[1].Text != "I wrote tests" {
		t.Errorf("unexpected speech utterance %+v", calls.speech[1])
	}
}

func TestTwilioStatusWebhook(t *testing.T) {
	calls := &mockCallHandler{}
	r := setupRouter(newMockUserService(), calls, plainRenderer{})

	doForm(r, "/twilio-status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}})
	w := doForm(r, "/twilio-status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if len(calls.hangups) != 1 || calls.hangups[0] != "CA1" {
		t.Errorf("Expected one hangup, got %v", calls.hangups)
	}
}

func TestWebhooksNeverFail(t *testing.T) {
	t.Run("RenderError", func(t *testing.T) {
		r := setupRouter(newMockUserService(), &mockCallHandler{}, plainRenderer{err: errors.New("bad xml")})
		w := doForm(r, "/twilio-call", url.Values{"CallSid": {"CA1"}})
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Hangup/>") {
			t.Errorf("Expected fallback TwiML, got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("Panic", func(t *testing.T) {
		r := setupRouter(newMockUserService(), &mockCallHandler{panicked: true}, plainRenderer{})
		w := doForm(r, "/twilio-response", url.Values{"CallSid": {"CA1"}})
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), call.ErrorLine) {
			t.Errorf("Expected fallback TwiML, got %d %q", w.Code, w.Body.String())
		}
	})
}
