package models

import (
	"fmt"
	"strings"
	"time"
)

// Personality стиль общения коуча; закрытый набор значений
type Personality string

const (
	PersonalitySupportive Personality = "supportive"
	PersonalityStrict     Personality = "strict"
	PersonalitySarcastic  Personality = "sarcastic"
)

// Personalities возвращает все поддерживаемые стили в фиксированном порядке
func Personalities() []Personality {
	return []Personality{PersonalitySupportive, PersonalityStrict, PersonalitySarcastic}
}

// Valid проверяет, что значение входит в закрытый набор
func (p Personality) Valid() bool {
	switch p {
	case PersonalitySupportive, PersonalityStrict, PersonalitySarcastic:
		return true
	}
	return false
}

// ParsePersonality разбирает строку без учета регистра и пробелов
func ParsePersonality(s string) (Personality, error) {
	p := Personality(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("personality must be one of %v", Personalities())
	}
	return p, nil
}

// UserAccount зарегистрированный номер телефона и расписание звонков
type UserAccount struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	PhoneNumber     string      `gorm:"size:20;not null;uniqueIndex" json:"phone_number"`
	IntervalMinutes int         `gorm:"not null" json:"interval_minutes"`
	Personality     Personality `gorm:"size:16;not null" json:"personality"`
	IsActive        bool        `gorm:"not null;index:idx_user_accounts_due,priority:1" json:"is_active"`
	NextCallTime    time.Time   `gorm:"not null;index:idx_user_accounts_due,priority:2" json:"next_call_time"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// TableName фиксирует имя таблицы
func (UserAccount) TableName() string {
	return "user_accounts"
}

// Interval интервал между звонками
func (u *UserAccount) Interval() time.Duration {
	return time.Duration(u.IntervalMinutes) * time.Minute
}

// IsDue true, если пользователь активен и время следующего звонка наступило
func (u *UserAccount) IsDue(now time.Time) bool {
	return u.IsActive && !u.NextCallTime.After(now)
}
