// Package conversation превращает стиль коуча и историю разговора в следующую реплику.
package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/resilience"
	"VoiceCoachService/pkg/server"
	"go.uber.org/zap"
)

// LanguageModel генерирует ответ по списку сообщений; ответ ожидается в JSON
type LanguageModel interface {
	Chat(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// Reply результат одного хода
type Reply struct {
	Text      string
	ShouldEnd bool
	// Fallback true, если Text не получен от модели
	Fallback bool
}

// Options ограничения разговора
type Options struct {
	// HistoryWindow сколько последних реплик передается модели; 0 передает все
	HistoryWindow int
	// MaxTurns после стольких ответов ассистента разговор завершается; приветствие не считается; 0 без ограничения
	MaxTurns int
	// Timeout на один запрос к модели
	Timeout time.Duration
}

// Engine генерирует реплики коуча
type Engine struct {
	llm     LanguageModel
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
	opts    Options
}

type modelReply struct {
	Response  string `json:"response"`
	ShouldEnd *bool  `json:"should_end"`
}

// NewEngine создает Engine; breaker может быть nil
func NewEngine(llm LanguageModel, breaker *resilience.CircuitBreaker, logger *zap.Logger, opts Options) *Engine {
	return &Engine{
		llm:     llm,
		breaker: breaker,
		logger:  logger,
		opts:    opts,
	}
}

// OpeningLine фиксированное приветствие стиля
func (e *Engine) OpeningLine(p models.Personality) string {
	return ProfileFor(p).Greeting
}

// NextTurn генерирует следующую реплику. Ошибка, таймаут или некорректный ответ модели
// дают FailureLine и ShouldEnd = true; ошибка наружу не возвращается.
func (e *Engine) NextTurn(ctx context.Context, p models.Personality, transcript []models.Turn) Reply {
	profile := ProfileFor(p)
	log := e.logger.With(zap.String("personality", string(profile.Personality)))

	raw, err := e.complete(ctx, buildMessages(profile, transcript, e.opts.HistoryWindow))
	if err != nil {
		log.Warn("Language model call failed, ending conversation", zap.Error(err))
		server.RecordConversationTurn(string(profile.Personality), "fallback")
		return Reply{Text: FailureLine, ShouldEnd: true, Fallback: true}
	}

	parsed, ok := parseReply(raw)
	if !ok {
		log.Warn("Malformed language model reply, ending conversation", zap.String("raw", raw))
		server.RecordConversationTurn(string(profile.Personality), "fallback")
		return Reply{Text: FailureLine, ShouldEnd: true, Fallback: true}
	}

	reply := Reply{Text: strings.TrimSpace(parsed.Response)}
	if parsed.ShouldEnd != nil {
		reply.ShouldEnd = *parsed.ShouldEnd
	}
	if reply.Text == "" {
		reply.Text = profile.FallbackLine
		reply.Fallback = true
	}

	if e.opts.MaxTurns > 0 && replies(transcript)+1 >= e.opts.MaxTurns && !reply.ShouldEnd {
		log.Info("Turn limit reached, ending conversation", zap.Int("max_turns", e.opts.MaxTurns))
		reply.ShouldEnd = true
	}

	outcome := "reply"
	if reply.ShouldEnd {
		outcome = "ended"
	}
	server.RecordConversationTurn(string(profile.Personality), outcome)

	return reply
}

func (e *Engine) complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	var raw string
	call := func(ctx context.Context) error {
		start := time.Now()
		var err error
		raw, err = e.llm.Chat(ctx, messages)
		server.RecordCollaboratorCall("openai", "chat", time.Since(start), err)
		return err
	}

	if e.breaker == nil {
		return raw, call(ctx)
	}
	err := e.breaker.Execute(ctx, "chat_completion", call)
	return raw, err
}

// buildMessages system prompt и последние window реплик разговора
func buildMessages(profile Profile, transcript []models.Turn, window int) []models.ChatMessage {
	turns := transcript
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	messages := make([]models.ChatMessage, 0, len(turns)+1)
	messages = append(messages, models.ChatMessage{Role: "system", Content: profile.SystemPrompt})
	for _, t := range turns {
		role := "user"
		if t.Speaker == models.SpeakerAssistant {
			role = "assistant"
		}
		messages = append(messages, models.ChatMessage{Role: role, Content: t.Text})
	}
	return messages
}

// parseReply разбирает JSON ответа; допускает текст вокруг объекта
func parseReply(raw string) (modelReply, bool) {
	var reply modelReply
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return reply, false
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return reply, false
	}
	return reply, true
}

// replies считает ответы ассистента, начиная с первой реплики пользователя
func replies(transcript []models.Turn) int {
	n := 0
	heard := false
	for _, t := range transcript {
		switch {
		case t.Speaker == models.SpeakerUser:
			heard = true
		case heard && t.Speaker == models.SpeakerAssistant:
			n++
		}
	}
	return n
}
