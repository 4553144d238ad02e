package models

import "time"

// RegisterRequest тело запроса POST /register
type RegisterRequest struct {
	PhoneNumber     string `json:"phone_number"`
	IntervalMinutes int    `json:"interval_minutes"`
	Personality     string `json:"personality"`
}

// UserIDRequest тело запросов /start, /stop, /call-now, /delete-user
type UserIDRequest struct {
	UserID uint `json:"user_id"`
}

// RegisterResponse результат регистрации вместе со статусом первого звонка
type RegisterResponse struct {
	UserID          uint        `json:"user_id"`
	PhoneNumber     string      `json:"phone_number"`
	IntervalMinutes int         `json:"interval_minutes"`
	Personality     Personality `json:"personality"`
	CallStatus      string      `json:"call_status"`
}

// UserResponse представление пользователя для API
type UserResponse struct {
	UserID          uint        `json:"user_id"`
	PhoneNumber     string      `json:"phone_number"`
	IntervalMinutes int         `json:"interval_minutes"`
	Personality     Personality `json:"personality"`
	IsActive        bool        `json:"is_active"`
	NextCallTime    time.Time   `json:"next_call_time"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewUserResponse строит UserResponse из модели
func NewUserResponse(u *UserAccount) UserResponse {
	return UserResponse{
		UserID:          u.ID,
		PhoneNumber:     u.PhoneNumber,
		IntervalMinutes: u.IntervalMinutes,
		Personality:     u.Personality,
		IsActive:        u.IsActive,
		NextCallTime:    u.NextCallTime,
		CreatedAt:       u.CreatedAt,
	}
}

// MessageResponse простой ответ с сообщением
type MessageResponse struct {
	Message string `json:"message"`
	UserID  uint   `json:"user_id,omitempty"`
	CallSID string `json:"call_sid,omitempty"`
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// CallResult результат размещения исходящего звонка
type CallResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}
