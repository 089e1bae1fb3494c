package domain

// PaymentIntent is a planned-but-not-yet-executed payment. Immutable once
// planned. Sequence numbers are 0-based and contiguous within a tick.
type PaymentIntent struct {
	Sequence   int
	Equivalent string
	Sender     string // debtor
	Receiver   string // creditor
	Amount     float64
}
