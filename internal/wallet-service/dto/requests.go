package dto

// DepositRequest registra a invoice de depósito que o reconciliador vai liquidar
type DepositRequest struct {
	Account        string `json:"account" validate:"required,max=64"`
	PaymentAddr    string `json:"payment_addr" validate:"required,base64"`
	PaymentRequest string `json:"payment_request" validate:"required"`
	Amount         int64  `json:"amount" validate:"gt=0"` // valor cotado; o pago prevalece
}

type CreateChallengeRequest struct {
	Creator           string `json:"creator" validate:"required,max=64"`
	Opponent          string `json:"opponent" validate:"required,max=64,nefield=Creator"`
	Stake             int64  `json:"stake" validate:"gt=0"`
	Color             string `json:"color" validate:"required,oneof=white black"`
	TimeLimit         int    `json:"time_limit" validate:"gte=0"`
	OpponentTimeLimit int    `json:"opponent_time_limit" validate:"gte=0"`
	Increment         int    `json:"increment" validate:"gte=0"`
}

type AcceptChallengeRequest struct {
	Opponent string `json:"opponent" validate:"required"`
	MatchID  string `json:"match_id" validate:"required,max=64"`
}
