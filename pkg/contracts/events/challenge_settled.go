package events

import "time"

// Payout é um crédito aplicado ao ledger durante a liquidação
type Payout struct {
	Account string `json:"account"`
	Type    string `json:"type"` // fee | winnings | draw | expired
	Amount  int64  `json:"amount"`
}

// Evento publicado após o commit da liquidação de um desafio
type ChallengeSettled struct {
	ChallengeID int64     `json:"challenge_id"`
	MatchID     string    `json:"match_id,omitempty"`
	Status      string    `json:"status"`  // COMPLETED | EXPIRED
	Outcome     string    `json:"outcome"` // decisive | draw | forced_draw | expired
	Winner      string    `json:"winner,omitempty"`
	Stake       int64     `json:"stake"`
	Payouts     []Payout  `json:"payouts"`
	Ts          time.Time `json:"ts"`
}
