// Package twilio размещает исходящие звонки, скачивает записи и строит TwiML ответы webhook.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/resilience"
	"VoiceCoachService/pkg/server"
	twilioSDK "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Пути webhook, которые телефония вызывает во время звонка
const (
	CallPath      = "/twilio-call"
	RecordingPath = "/twilio-recording"
	ResponsePath  = "/twilio-response"
	StatusPath    = "/twilio-status"
)

// callCreator часть REST API Twilio, нужная для размещения звонка
type callCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// DialerConfig параметры исходящих звонков
type DialerConfig struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	WebhookBaseURL string
	Timeout        time.Duration
}

// Dialer размещает исходящие звонки через Twilio REST API
type Dialer struct {
	calls   callCreator
	cfg     DialerConfig
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

// NewDialer создает Dialer поверх REST клиента Twilio; breaker может быть nil
func NewDialer(cfg DialerConfig, breaker *resilience.CircuitBreaker, logger *zap.Logger) *Dialer {
	client := twilioSDK.NewRestClientWithParams(twilioSDK.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newDialer(client.Api, cfg, breaker, logger)
}

func newDialer(calls callCreator, cfg DialerConfig, breaker *resilience.CircuitBreaker, logger *zap.Logger) *Dialer {
	return &Dialer{
		calls:   calls,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
	}
}

// Dial звонит пользователю. Webhook ответа получает user_id в query, статусы звонка
// приходят на StatusPath.
func (d *Dialer) Dial(ctx context.Context, user *models.UserAccount) (models.CallResult, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	params := d.callParams(user)

	var result models.CallResult
	dial := func(ctx context.Context) error {
		start := time.Now()
		call, err := d.createCall(ctx, params)
		server.RecordCollaboratorCall("twilio", "create_call", time.Since(start), err)
		if err != nil {
			return err
		}
		if call.Sid != nil {
			result.SID = *call.Sid
		}
		if call.Status != nil {
			result.Status = *call.Status
		}
		return nil
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(ctx, "create_call", dial)
	} else {
		err = dial(ctx)
	}
	if err != nil {
		return models.CallResult{}, apperrors.Unavailable("create_call", err)
	}

	d.logger.Info("Outbound call created",
		zap.Uint("user_id", user.ID),
		zap.String("call_sid", result.SID),
		zap.String("status", result.Status))
	return result, nil
}

// createCall SDK не принимает context, поэтому ожидание ограничивается снаружи.
// После таймаута запрос к Twilio продолжается в фоне: если звонок все же создан, он считается
// неудачным, пользователь остается due и может получить повторный звонок на следующем проходе.
// Доставка звонков поэтому at-least-once.
func (d *Dialer) createCall(ctx context.Context, params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	type outcome struct {
		call *twilioApi.ApiV2010Call
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		call, err := d.calls.CreateCall(params)
		done <- outcome{call: call, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.call == nil {
			return nil, errors.New("twilio: empty create call response")
		}
		return res.call, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("twilio: create call: %w", ctx.Err())
	}
}

func (d *Dialer) callParams(user *models.UserAccount) *twilioApi.CreateCallParams {
	query := url.Values{"user_id": []string{strconv.FormatUint(uint64(user.ID), 10)}}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(user.PhoneNumber)
	params.SetFrom(d.cfg.FromNumber)
	params.SetUrl(d.cfg.WebhookBaseURL + CallPath + "?" + query.Encode())
	params.SetMethod("POST")
	params.SetStatusCallback(d.cfg.WebhookBaseURL + StatusPath)
	params.SetStatusCallbackEvent([]string{"completed"})
	params.SetStatusCallbackMethod("POST")
	return params
}
