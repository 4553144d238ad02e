package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"VoiceCoachService/pkg/resilience"
	"VoiceCoachService/pkg/server"
	"go.uber.org/zap"
)

// maxRecordingSize ограничение на размер скачиваемой записи
const maxRecordingSize = 10 << 20

// DownloadError ответ хранилища записей с кодом вне 2xx
type DownloadError struct {
	StatusCode int
	URL        string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("twilio: recording download %s returned status %d", e.URL, e.StatusCode)
}

// RecordingFetcher скачивает записи ответов абонента с авторизацией аккаунта Twilio
type RecordingFetcher struct {
	httpClient *http.Client
	accountSID string
	authToken  string
	timeout    time.Duration
	retry      resilience.RetryOptions
	logger     *zap.Logger
}

// NewRecordingFetcher создает RecordingFetcher. Запись может быть еще не готова сразу после
// webhook, поэтому 404 повторяется согласно retry.
func NewRecordingFetcher(accountSID, authToken string, timeout time.Duration, retry resilience.RetryOptions, logger *zap.Logger) *RecordingFetcher {
	retry.RetryableErrors = nil
	retry.RetryIf = recordingNotReady

	return &RecordingFetcher{
		httpClient: &http.Client{},
		accountSID: accountSID,
		authToken:  authToken,
		timeout:    timeout,
		retry:      retry,
		logger:     logger,
	}
}

// Fetch скачивает запись в формате WAV
func (f *RecordingFetcher) Fetch(ctx context.Context, recordingURL string) ([]byte, error) {
	if strings.TrimSpace(recordingURL) == "" {
		return nil, errors.New("twilio: recording url must not be empty")
	}
	audioURL := recordingURL
	if !strings.HasSuffix(audioURL, ".wav") {
		audioURL += ".wav"
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var audio []byte
	err := resilience.WithRetry(ctx, f.logger, "download_recording", f.retry, func(ctx context.Context) error {
		start := time.Now()
		var err error
		audio, err = f.download(ctx, audioURL)
		server.RecordCollaboratorCall("twilio", "download_recording", time.Since(start), err)
		return err
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (f *RecordingFetcher) download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("twilio: create request: %w", err)
	}
	req.SetBasicAuth(f.accountSID, f.authToken)

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: download recording: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, &DownloadError{StatusCode: res.StatusCode, URL: audioURL}
	}

	audio, err := io.ReadAll(io.LimitReader(res.Body, maxRecordingSize))
	if err != nil {
		return nil, fmt.Errorf("twilio: read recording: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("twilio: empty recording")
	}
	return audio, nil
}

func recordingNotReady(err error) bool {
	var downloadErr *DownloadError
	return errors.As(err, &downloadErr) && downloadErr.StatusCode == http.StatusNotFound
}
