package topics

const (
	// Liquidação de desafios (vitória, empate, empate forçado, expiração)
	ChallengeSettled = "challenge_settled"

	// Depósitos confirmados pela rede de pagamento
	FundingSettled = "funding_settled"

	// Eventos de liquidação que o audit-worker não conseguiu decodificar
	SettlementDLQ = "settlement_events_dlq"
)
