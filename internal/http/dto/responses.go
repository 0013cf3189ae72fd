package dto

import "time"

type AuthResponse struct {
	Token      string `json:"token"`
	TelegramID int64  `json:"telegram_user_id"`
	Operator   bool   `json:"operator"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type RateResponse struct {
	Price      string    `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
	Changed    bool      `json:"changed"`
}
