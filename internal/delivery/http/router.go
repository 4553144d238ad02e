package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"VoiceCoachService/internal/call"
	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserService операции управления пользователями
type UserService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error)
	Start(ctx context.Context, id uint) (*models.UserAccount, error)
	Stop(ctx context.Context, id uint) (*models.UserAccount, error)
	TriggerNow(ctx context.Context, id uint) (*models.UserAccount, models.CallResult, error)
	DeleteUser(ctx context.Context, id uint) (*models.UserAccount, error)
	GetUser(ctx context.Context, id uint) (*models.UserAccount, error)
	ListUsers(ctx context.Context) ([]models.UserAccount, error)
}

// CallHandler реакция на события звонка
type CallHandler interface {
	OnCallAnswered(ctx context.Context, ev call.Event) call.Instructions
	OnSpeechCaptured(ctx context.Context, ev call.Event, u call.Utterance) call.Instructions
	OnHangup(ctx context.Context, callSID string)
}

// Renderer переводит инструкции в разметку телефонии
type Renderer interface {
	Render(ins call.Instructions) (string, error)
}

// Handler HTTP обработчики API и webhook телефонии
type Handler struct {
	users    UserService
	calls    CallHandler
	renderer Renderer
	logger   *zap.Logger
}

// NewHandler создает Handler
func NewHandler(users UserService, calls CallHandler, renderer Renderer, logger *zap.Logger) *Handler {
	return &Handler{
		users:    users,
		calls:    calls,
		renderer: renderer,
		logger:   logger,
	}
}

// NewRouter собирает gin engine: middleware, API управления и webhook телефонии
func NewRouter(h *Handler, logger *zap.Logger, corsOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.RequestLogger(logger))
	router.Use(server.GinMetricsMiddleware())
	router.Use(cors.New(corsConfig(corsOrigins)))

	router.POST("/register", h.Register)
	router.POST("/start", h.Start)
	router.POST("/stop", h.Stop)
	router.POST("/call-now", h.CallNow)
	router.POST("/delete-user", h.DeleteUser)
	router.GET("/users", h.ListUsers)
	router.GET("/users/:id", h.GetUser)

	webhooks := router.Group("/")
	webhooks.Use(gin.CustomRecovery(h.webhookPanic))
	webhooks.POST("twilio-call", h.TwilioCall)
	webhooks.POST("twilio-recording", h.TwilioRecording)
	webhooks.POST("twilio-response", h.TwilioResponse)
	webhooks.POST("twilio-status", h.TwilioStatus)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = append(cfg.AllowHeaders, server.RequestIDHeader)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Server HTTP сервер API
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer создает сервер на порту port
func NewServer(handler http.Handler, port int, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run слушает порт и блокируется до Shutdown
func (s *Server) Run() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", s.srv.Addr))

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается завершения текущих запросов
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.srv.Shutdown(ctx)
}
