package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// CreateEscrowResponse returns the escrow together with the buyer
// confirmation token the checkout flow hands to the buyer.
type CreateEscrowResponse struct {
	Escrow            any    `json:"escrow"`
	ConfirmationToken string `json:"confirmation_token"`
}

type ReleaseResponse struct {
	Escrow          any     `json:"escrow"`
	LedgerReference *string `json:"ledger_reference,omitempty"`
}
