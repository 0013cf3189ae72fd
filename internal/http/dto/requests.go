package dto

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}

type StartDealRequest struct {
	SessionID      string `json:"session_id"`
	CounterpartyID int64  `json:"counterparty_id"`
}

type SelectRoleRequest struct {
	Role string `json:"role"` // sender/receiver
}

type SubmitAmountRequest struct {
	Amount string `json:"amount"`
}

type ReleaseRequest struct {
	Address string `json:"address"`
}

type OperatorReleaseRequest struct {
	Code    string `json:"code"`
	Address string `json:"address"`
}
