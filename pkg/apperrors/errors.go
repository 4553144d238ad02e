package apperrors

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Kind классифицирует ошибку для транспортного слоя
type Kind string

const (
	// KindValidation некорректные входные данные
	KindValidation Kind = "validation"
	// KindNotFound запись не найдена
	KindNotFound Kind = "not_found"
	// KindConflict операция невозможна в текущем состоянии
	KindConflict Kind = "conflict"
	// KindUnavailable внешний сервис недоступен или не ответил вовремя
	KindUnavailable Kind = "unavailable"
	// KindInternal все остальное
	KindInternal Kind = "internal"
)

// Список игнорируемых ошибок для механизмов отказоустойчивости
var (
	// ErrNotFound возвращается, когда запись не найдена (обобщенная ошибка)
	ErrNotFound = errors.New("record not found")

	// ErrConflict возвращается, когда операция противоречит текущему состоянию записи
	ErrConflict = errors.New("conflict")

	// ErrUnavailable возвращается, когда внешний сервис недоступен
	ErrUnavailable = errors.New("collaborator unavailable")

	// ErrNotDue возвращается, когда звонок пользователю уже занят другим проходом или время еще не наступило
	ErrNotDue = errors.New("call is not due")

	// ErrCacheMiss возвращается, когда сессия не найдена в Redis
	ErrCacheMiss = redis.Nil

	// ErrRecordNotFound возвращается, когда запись не найдена в базе данных
	ErrRecordNotFound = gorm.ErrRecordNotFound

	// IgnoredErrors содержит ошибки, которые не должны открывать circuit breaker
	IgnoredErrors = []error{
		ErrNotFound,
		ErrConflict,
		ErrCacheMiss,
		ErrRecordNotFound,
		gorm.ErrDuplicatedKey,
	}
)

// Error ошибка приложения с типом и контекстом операции
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать типизированные ошибки с общими sentinel-ошибками
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

// Validation создает ошибку валидации
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// NotFound создает ошибку "не найдено"
func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Conflict создает ошибку конфликта состояния
func Conflict(op, msg string) error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg}
}

// NotDue создает конфликт для пользователя, время звонка которого еще не наступило
func NotDue(op string) error {
	return &Error{Kind: KindConflict, Op: op, Msg: "user is not due", Err: ErrNotDue}
}

// Unavailable оборачивает сбой внешнего сервиса
func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// IsNotFound проверяет, является ли ошибка ошибкой "запись не найдена"
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCacheMiss) ||
		errors.Is(err, ErrRecordNotFound)
}

// KindOf определяет тип ошибки, в том числе для ошибок сторонних библиотек
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	switch {
	case IsNotFound(err):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	}

	return KindInternal
}

// Message возвращает текст ошибки, пригодный для ответа клиенту
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Msg != "" {
		return appErr.Msg
	}

	switch KindOf(err) {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "upstream service unavailable"
	}

	return "internal error"
}

// Transient true для ошибок, которые имеет смысл повторить: сбои соединения и прочие внутренние ошибки.
// Отсутствие записи, конфликт, валидация и истекший контекст не повторяются.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return KindOf(err) == KindInternal
}
