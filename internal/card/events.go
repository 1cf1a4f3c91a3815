package card

// Webhook payload shapes as the provider sends them. Transport verifies
// signatures and parses JSON before these reach the reconciler, so the
// structs carry provider-native fields: ids, minor-unit integer
// amounts, lowercase currency codes.

const (
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusCanceled   = "canceled"

	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"

	DisputeStatusWon           = "won"
	DisputeStatusLost          = "lost"
	DisputeStatusWarningClosed = "warning_closed"
)

// PaymentIntent is the payment-state event body.
type PaymentIntent struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

// Refund is one element of the per-charge refund list.
type Refund struct {
	Id            string `json:"id"`
	Amount        int64  `json:"amount"` // minor units
	Currency      string `json:"currency"`
	PaymentIntent string `json:"payment_intent"`
	FailureReason string `json:"failure_reason"`
	Status        string `json:"status"`
}

// Dispute covers both dispute.created and dispute.closed bodies.
type Dispute struct {
	Id            string `json:"id"`
	Amount        int64  `json:"amount"` // minor units
	PaymentIntent string `json:"payment_intent"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
}

// Transfer is the payout transfer carrying its reversal records.
type Transfer struct {
	Id             string     `json:"id"`
	Amount         int64      `json:"amount"`          // minor units
	AmountReversed int64      `json:"amount_reversed"` // minor units
	Reversals      []Reversal `json:"reversals"`
}

type Reversal struct {
	Id string `json:"id"`
}
