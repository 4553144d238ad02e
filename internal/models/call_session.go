package models

import "time"

// Speaker автор реплики в разговоре
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// SessionState состояние разговора; ended терминально
type SessionState string

const (
	SessionOngoing SessionState = "ongoing"
	SessionEnded   SessionState = "ended"
)

// Turn одна реплика разговора
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// CallSession состояние одного звонка, ключ CallSID телефонии
type CallSession struct {
	CallSID     string      `json:"call_sid"`
	UserID      uint        `json:"user_id"`
	PhoneNumber string      `json:"phone_number"`
	Personality Personality `json:"personality"`
	Transcript  []Turn      `json:"transcript"`
	// TurnCount число ответов ассистента на реплики пользователя; приветствие не считается
	TurnCount int          `json:"turn_count"`
	State     SessionState `json:"state"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewCallSession создает сессию в состоянии ongoing
func NewCallSession(callSID string, user *UserAccount, now time.Time) *CallSession {
	s := &CallSession{
		CallSID:     callSID,
		Personality: PersonalitySupportive,
		State:       SessionOngoing,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if user != nil {
		s.UserID = user.ID
		s.PhoneNumber = user.PhoneNumber
		s.Personality = user.Personality
	}
	return s
}

// AppendTurn добавляет реплику в конец; существующие реплики не изменяются.
// TurnCount растет на каждую реплику ассистента после первой реплики пользователя.
func (s *CallSession) AppendTurn(speaker Speaker, text string, at time.Time) {
	if speaker == SpeakerAssistant && HasUserTurn(s.Transcript) {
		s.TurnCount++
	}
	s.Transcript = append(s.Transcript, Turn{Speaker: speaker, Text: text, At: at})
	s.UpdatedAt = at
}

// HasUserTurn true, если пользователь уже что-то сказал
func HasUserTurn(transcript []Turn) bool {
	for _, t := range transcript {
		if t.Speaker == SpeakerUser {
			return true
		}
	}
	return false
}

// End переводит сессию в терминальное состояние
func (s *CallSession) End(at time.Time) {
	s.State = SessionEnded
	s.UpdatedAt = at
}

// Ended true, если разговор завершен
func (s *CallSession) Ended() bool {
	return s.State == SessionEnded
}

// ChatMessage сообщение для языковой модели
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
