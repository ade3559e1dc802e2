package dto

import "time"

type BalanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type AuditResponse struct {
	Account    string `json:"account"`
	Balance    int64  `json:"balance"`
	SettledSum int64  `json:"settled_sum"`
	Consistent bool   `json:"consistent"`
}

type TransactionResponse struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Detail      string    `json:"detail"`
	Amount      int64     `json:"amount"`
	State       string    `json:"state"`
	PaymentAddr string    `json:"payment_addr,omitempty"`
	ChallengeID int64     `json:"challenge_id,omitempty"`
	MatchID     string    `json:"match_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ChallengeResponse struct {
	ID                int64     `json:"id"`
	Creator           string    `json:"creator"`
	Opponent          string    `json:"opponent"`
	Stake             int64     `json:"stake"`
	Color             string    `json:"color"`
	TimeLimit         int       `json:"time_limit"`
	OpponentTimeLimit int       `json:"opponent_time_limit"`
	Increment         int       `json:"increment"`
	Status            string    `json:"status"`
	MatchID           string    `json:"match_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
