package dto

type CreateEscrowRequest struct {
	TransactionID string  `json:"transaction_id"`
	Amount        string  `json:"amount"`
	TimeoutHours  int     `json:"timeout_hours"`
	BuyerAddress  string  `json:"buyer_address"`
	SellerAddress string  `json:"seller_address"`
	Memo          *string `json:"memo,omitempty"`
}

type ReleaseEscrowRequest struct {
	BuyerSignature string `json:"buyer_signature"`
}

type ConfirmEscrowRequest struct {
	Confirmed      bool   `json:"confirmed"`
	BuyerSignature string `json:"buyer_signature"`
}

type PartialReleaseRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

type DisputeEscrowRequest struct {
	Reason             string `json:"reason"`
	InitiatorSignature string `json:"initiator_signature"`
}

// ResolveDisputeRequest carries only the decision; the admin's identity
// comes from the authenticated session.
type ResolveDisputeRequest struct {
	Resolution string `json:"resolution"` // release / refund
}
