// Package call ведет разговор по событиям телефонии: ответ на звонок, реплика абонента, завершение.
package call

import (
	"context"
	"path"
	"strings"
	"time"

	"VoiceCoachService/internal/conversation"
	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/resilience"
	"VoiceCoachService/pkg/server"
	"go.uber.org/zap"
)

// DirectionOutbound направление звонка, размещенного через REST API
const DirectionOutbound = "outbound-api"

// UserFinder поиск владельца звонка
type UserFinder interface {
	GetByID(ctx context.Context, id uint) (*models.UserAccount, error)
	GetByPhone(ctx context.Context, phone string) (*models.UserAccount, error)
}

// SessionStore хранилище сессий звонков; Get возвращает ошибку KindNotFound, если сессии нет
type SessionStore interface {
	Save(ctx context.Context, session *models.CallSession) error
	Get(ctx context.Context, callSID string) (*models.CallSession, error)
	Delete(ctx context.Context, callSID string) error
}

// Coach генерирует реплики ассистента
type Coach interface {
	OpeningLine(p models.Personality) string
	NextTurn(ctx context.Context, p models.Personality, transcript []models.Turn) conversation.Reply
}

// RecordingFetcher скачивает запись ответа абонента
type RecordingFetcher interface {
	Fetch(ctx context.Context, recordingURL string) ([]byte, error)
}

// Transcriber переводит аудио в текст
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Event параметры webhook телефонии
type Event struct {
	CallSID   string
	UserID    uint
	Direction string
	From      string
	To        string
}

// UserPhone номер абонента: для исходящих звонков это To, иначе From
func (e Event) UserPhone() string {
	if e.Direction == DirectionOutbound {
		return e.To
	}
	return e.From
}

// Utterance ответ абонента: распознанный телефонией текст или ссылка на запись
type Utterance struct {
	Text         string
	RecordingURL string
	Recorded     bool
}

// Options настройки оркестратора
type Options struct {
	Capture              Capture
	TurnTimeout          time.Duration
	TranscriptionTimeout time.Duration
}

// Orchestrator связывает события телефонии, сессии звонков и Conversation Engine
type Orchestrator struct {
	users       UserFinder
	sessions    SessionStore
	coach       Coach
	fetcher     RecordingFetcher
	transcriber Transcriber
	breaker     *resilience.CircuitBreaker
	logger      *zap.Logger
	opts        Options
	now         func() time.Time
}

// NewOrchestrator создает Orchestrator. fetcher и transcriber нужны только в режиме записи;
// breaker защищает распознавание и может быть nil.
func NewOrchestrator(users UserFinder, sessions SessionStore, coach Coach, fetcher RecordingFetcher, transcriber Transcriber, breaker *resilience.CircuitBreaker, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Capture == CaptureNone {
		opts.Capture = CaptureRecording
	}
	return &Orchestrator{
		users:       users,
		sessions:    sessions,
		coach:       coach,
		fetcher:     fetcher,
		transcriber: transcriber,
		breaker:     breaker,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
	}
}

// OnCallAnswered создает сессию, здоровается и ждет ответа абонента
func (o *Orchestrator) OnCallAnswered(ctx context.Context, ev Event) Instructions {
	log := o.logger.With(zap.String("call_sid", ev.CallSID), zap.String("direction", ev.Direction))

	user, err := o.resolveUser(ctx, ev)
	if err != nil && !apperrors.IsNotFound(err) {
		log.Error("Failed to resolve user for answered call", zap.Error(err))
		return Hangup(ErrorLine)
	}

	greeting := conversation.GenericGreeting
	if user != nil {
		greeting = o.coach.OpeningLine(user.Personality)
		log.Info("Call answered", zap.Uint("user_id", user.ID), zap.String("personality", string(user.Personality)))
	} else {
		log.Warn("No user found for answered call", zap.String("phone", ev.UserPhone()))
	}

	now := o.now()
	session := models.NewCallSession(ev.CallSID, user, now)
	session.AppendTurn(models.SpeakerAssistant, greeting, now)

	if err := o.sessions.Save(ctx, session); err != nil {
		log.Error("Failed to save call session", zap.Error(err))
	} else {
		server.CallSessionStarted()
	}

	return o.prompt(session.UserID, greeting)
}

// OnSpeechCaptured обрабатывает реплику абонента и возвращает ответ ассистента
func (o *Orchestrator) OnSpeechCaptured(ctx context.Context, ev Event, u Utterance) Instructions {
	log := o.logger.With(zap.String("call_sid", ev.CallSID))

	session, err := o.sessions.Get(ctx, ev.CallSID)
	switch {
	case err == nil:
	case apperrors.IsNotFound(err):
		user, err := o.resolveUser(ctx, ev)
		if err != nil {
			if apperrors.IsNotFound(err) {
				log.Warn("No user found for speech event", zap.String("phone", ev.UserPhone()))
				return Hangup(AccountNotFoundLine)
			}
			log.Error("Failed to resolve user for speech event", zap.Error(err))
			return Hangup(ErrorLine)
		}
		log.Warn("No call session found, starting a new one", zap.Uint("user_id", user.ID))
		session = models.NewCallSession(ev.CallSID, user, o.now())
		server.CallSessionStarted()
	default:
		log.Error("Failed to load call session", zap.Error(err))
		return Hangup(ErrorLine)
	}

	if session.UserID == 0 {
		o.finish(ctx, log, session.CallSID)
		return Hangup(AccountNotFoundLine)
	}
	if session.Ended() {
		o.finish(ctx, log, session.CallSID)
		return Hangup(ClosingLine)
	}

	turnCtx := ctx
	if o.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, o.opts.TurnTimeout)
		defer cancel()
	}

	text, failure := o.userText(turnCtx, log, u)
	if failure != "" {
		o.finish(ctx, log, session.CallSID)
		return Hangup(failure)
	}

	session.AppendTurn(models.SpeakerUser, text, o.now())
	reply := o.coach.NextTurn(turnCtx, session.Personality, session.Transcript)
	session.AppendTurn(models.SpeakerAssistant, reply.Text, o.now())

	log.Info("Conversation turn completed",
		zap.Uint("user_id", session.UserID),
		zap.Int("turn", session.TurnCount),
		zap.Bool("should_end", reply.ShouldEnd),
		zap.Bool("fallback", reply.Fallback))

	if reply.ShouldEnd {
		session.End(o.now())
		o.finish(ctx, log, session.CallSID)
		if reply.Fallback {
			return Hangup(reply.Text)
		}
		return Hangup(reply.Text, ClosingLine)
	}

	if err := o.sessions.Save(ctx, session); err != nil {
		log.Error("Failed to save call session", zap.Error(err))
	}
	return o.prompt(session.UserID, reply.Text)
}

// OnHangup удаляет сессию завершенного звонка
func (o *Orchestrator) OnHangup(ctx context.Context, callSID string) {
	log := o.logger.With(zap.String("call_sid", callSID))

	if _, err := o.sessions.Get(ctx, callSID); err != nil {
		if !apperrors.IsNotFound(err) {
			log.Warn("Failed to load call session on hangup", zap.Error(err))
		}
		return
	}
	o.finish(ctx, log, callSID)
	log.Info("Call session closed on hangup")
}

// TerminalStatus true для статусов звонка, после которых событий больше не будет
func TerminalStatus(status string) bool {
	switch status {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	}
	return false
}

func (o *Orchestrator) prompt(userID uint, lines ...string) Instructions {
	return Instructions{
		Lines:        lines,
		Capture:      o.opts.Capture,
		AfterCapture: []string{NoInputLine},
		UserID:       userID,
	}
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, callSID string) {
	if err := o.sessions.Delete(ctx, callSID); err != nil {
		log.Warn("Failed to delete call session", zap.Error(err))
	}
	server.CallSessionFinished()
}

// resolveUser ищет пользователя по user_id из URL webhook, затем по номеру телефона
func (o *Orchestrator) resolveUser(ctx context.Context, ev Event) (*models.UserAccount, error) {
	if ev.UserID != 0 {
		user, err := o.users.GetByID(ctx, ev.UserID)
		if err == nil {
			return user, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	phone := strings.TrimSpace(ev.UserPhone())
	if phone == "" {
		return nil, apperrors.NotFound("resolve_user", "caller phone number is missing")
	}
	return o.users.GetByPhone(ctx, phone)
}

// userText возвращает текст реплики либо фразу, которой нужно завершить звонок
func (o *Orchestrator) userText(ctx context.Context, log *zap.Logger, u Utterance) (string, string) {
	if !u.Recorded {
		return strings.TrimSpace(u.Text), ""
	}
	if u.RecordingURL == "" {
		log.Warn("Recording event without recording URL")
		return "", NoRecordingLine
	}
	if o.fetcher == nil || o.transcriber == nil {
		log.Error("Recording received but transcription is not configured")
		return "", RecordingFailedLine
	}

	audio, err := o.fetcher.Fetch(ctx, u.RecordingURL)
	if err != nil {
		log.Error("Failed to download recording", zap.String("recording_url", u.RecordingURL), zap.Error(err))
		return "", RecordingFailedLine
	}

	text, err := o.transcribe(ctx, audio, path.Base(u.RecordingURL)+".wav")
	if err != nil {
		log.Error("Failed to transcribe recording", zap.Error(err))
		return "", TranscriptFailedLine
	}

	log.Debug("Recording transcribed", zap.Int("audio_bytes", len(audio)), zap.String("text", text))
	return text, ""
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if o.opts.TranscriptionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.TranscriptionTimeout)
		defer cancel()
	}

	var text string
	call := func(ctx context.Context) error {
		start := time.Now()
		var err error
		text, err = o.transcriber.Transcribe(ctx, audio, filename)
		server.RecordCollaboratorCall("openai", "transcribe", time.Since(start), err)
		return err
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.Execute(ctx, "transcribe", call)
	} else {
		err = call(ctx)
	}
	return text, err
}
