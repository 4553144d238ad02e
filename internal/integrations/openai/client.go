package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"VoiceCoachService/internal/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// chatRequest минимальный запрос к Chat Completions
type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []models.ChatMessage `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int                `json:"index"`
		Message      models.ChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
}

// HTTPStatusError ответ OpenAI с кодом вне 2xx
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatusCode код ответа upstream
func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client клиент OpenAI для генерации реплик (JSON mode) и распознавания речи
type Client struct {
	apiKey             string
	baseURL            string
	httpClient         *http.Client
	chatModel          string
	transcriptionModel string
	language           string
	maxTokens          int
	temperature        float64
}

// Option настраивает Client
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithModels задает модели генерации и распознавания; пустое значение оставляет модель по умолчанию
func WithModels(chat, transcription string) Option {
	return func(c *Client) {
		if chat != "" {
			c.chatModel = chat
		}
		if transcription != "" {
			c.transcriptionModel = transcription
		}
	}
}

// WithGeneration ограничивает длину ответа и задает температуру
func WithGeneration(maxTokens int, temperature float64) Option {
	return func(c *Client) {
		c.maxTokens = maxTokens
		c.temperature = temperature
	}
}

// WithLanguage подсказка языка для распознавания (ISO-639-1)
func WithLanguage(language string) Option {
	return func(c *Client) {
		c.language = language
	}
}

// NewClient создает клиента; apiKey обязателен
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	c := &Client{
		apiKey:             apiKey,
		baseURL:            defaultBaseURL,
		httpClient:         &http.Client{Timeout: 15 * time.Second},
		chatModel:          "gpt-3.5-turbo",
		transcriptionModel: "whisper-1",
		language:           "en",
		maxTokens:          80,
		temperature:        0.7,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

// Chat запрашивает ответ в JSON mode и возвращает content первого варианта как есть
func (c *Client) Chat(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}

	temperature := c.temperature
	body, err := json.Marshal(chatRequest{
		Model:          c.chatModel,
		Messages:       messages,
		MaxTokens:      c.maxTokens,
		Temperature:    &temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := endpointURL(c.baseURL, "/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	raw, err := c.do(req, url)
	if err != nil {
		return "", fmt.Errorf("openai: chat request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}

	return payload.Choices[0].Message.Content, nil
}

// Transcribe отправляет аудио в /audio/transcriptions и возвращает текст без обрамляющих пробелов
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("openai: audio must not be empty")
	}
	if filename == "" {
		filename = "recording.wav"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("openai: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("openai: write audio: %w", err)
	}
	fields := map[string]string{
		"model":           c.transcriptionModel,
		"response_format": "text",
	}
	if c.language != "" {
		fields["language"] = c.language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("openai: write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("openai: close multipart: %w", err)
	}

	url := endpointURL(c.baseURL, "/audio/transcriptions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	raw, err := c.do(req, url)
	if err != nil {
		return "", fmt.Errorf("openai: transcription request failed: %w", err)
	}

	return strings.TrimSpace(string(raw)), nil
}

func (c *Client) do(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
