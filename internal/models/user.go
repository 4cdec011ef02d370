// Package models содержит доменные структуры пользователя, подписки и
// durable-воркфлоу, а также типы для приёма данных из JSON-запросов.
package models

import "time"

// User представляет зарегистрированного пользователя системы.
// Пароль и поля сброса пароля никогда не сериализуются в ответы.
type User struct {
	ID                string     `json:"_id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	ResetToken        *string    `json:"-"`
	ResetTokenExpires *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// DummySignUp тело запроса регистрации.
type DummySignUp struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// DummySignIn тело запроса входа.
type DummySignIn struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// DummyResetRequest тело запроса на сброс пароля.
type DummyResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// DummyResetPassword тело запроса установки нового пароля по токену сброса.
type DummyResetPassword struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

// DummyUserPatch частичное обновление пользователя. Отсутствующие поля не меняются,
// неизвестные поля JSON игнорируются.
type DummyUserPatch struct {
	Name     *string `json:"name" validate:"omitempty,min=2,max=50"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password" validate:"omitempty,min=6"`
}

// UserPatch набор колонок пользователя, передаваемый в хранилище.
type UserPatch struct {
	Name         *string
	Email        *string
	PasswordHash *string
}

// Empty сообщает, что обновлять нечего.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.PasswordHash == nil
}
