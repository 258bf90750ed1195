package domain

const (
	CurrencyFiat   = "BRL"
	CurrencyStable = "USDC"

	// Fractional digits accepted on input per denomination.
	FiatScale   = 2
	StableScale = 6

	TxKindDepositIn   = "DEPOSIT_IN"
	TxKindWithdrawOut = "WITHDRAW_OUT"
	TxKindConvert     = "CONVERT"
	TxKindOnchainSend = "ONCHAIN_SEND"

	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"

	RoleUser  = "USER"
	RoleAdmin = "ADMIN"

	AuditEntityTransaction = "transaction"
	AuditEntityAccount     = "account"
)

// IsTerminal reports whether a transaction status accepts no further transitions.
func IsTerminal(status string) bool {
	return status == TxStatusCompleted || status == TxStatusFailed
}

func IsValidTxStatus(status string) bool {
	switch status {
	case TxStatusPending, TxStatusCompleted, TxStatusFailed:
		return true
	}
	return false
}

func IsValidTxKind(kind string) bool {
	switch kind {
	case TxKindDepositIn, TxKindWithdrawOut, TxKindConvert, TxKindOnchainSend:
		return true
	}
	return false
}
