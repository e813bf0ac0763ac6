package transaction

// Direction identifies which side of the bridge a transaction crosses.
type Direction string

const (
	DirectionOnramp  Direction = "onramp"  // NGN in, cNGN out
	DirectionOfframp Direction = "offramp" // cNGN in, NGN out
)

// Status is a position in one of the two per-direction state machines.
// Onramp and offramp share the transaction row but have disjoint
// transition tables; the Direction tag selects which table applies.
type Status string

// Onramp statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
)

// Offramp statuses.
const (
	StatusPendingPayment       Status = "pending_payment"
	StatusCngnReceived         Status = "cngn_received"
	StatusVerifyingAmount      Status = "verifying_amount"
	StatusProcessingWithdrawal Status = "processing_withdrawal"
	StatusTransferPending      Status = "transfer_pending"
	StatusRefundInitiated      Status = "refund_initiated"
	StatusRefunding            Status = "refunding"
)

// Terminal statuses, shared by both directions.
const (
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// InitialStatus returns the status a freshly created transaction starts in.
func InitialStatus(d Direction) Status {
	if d == DirectionOfframp {
		return StatusPendingPayment
	}
	return StatusPending
}

// IsTerminal reports whether s admits no further transitions.
// Terminal rows may only receive metadata audit annotations.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusFailed, StatusExpired:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// onrampTransitions is the complete onramp table. Anything absent is a bug.
var onrampTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusRefunded},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusRefunded},
}

// offrampTransitions covers the happy path, expiry, and the refund
// sub-protocol. The any-non-terminal -> refund_initiated edge is
// handled in CanTransition rather than enumerated here.
var offrampTransitions = map[Status][]Status{
	StatusPendingPayment:       {StatusCngnReceived, StatusExpired},
	StatusCngnReceived:         {StatusVerifyingAmount},
	StatusVerifyingAmount:      {StatusProcessingWithdrawal},
	StatusProcessingWithdrawal: {StatusTransferPending},
	StatusTransferPending:      {StatusCompleted},
	StatusRefundInitiated:      {StatusRefunding},
	StatusRefunding:            {StatusRefunded, StatusFailed},
}

// CanTransition reports whether from -> to is a legal move in the state
// machine for direction d. Every status write must pass this check
// before being persisted.
func CanTransition(d Direction, from, to Status) bool {
	if from == to {
		return false
	}
	if from.IsTerminal() {
		return false
	}

	if d == DirectionOfframp {
		// Any non-terminal offramp state may enter the refund sub-protocol,
		// except states already inside it.
		if to == StatusRefundInitiated {
			return from != StatusRefundInitiated && from != StatusRefunding
		}
		return contains(offrampTransitions[from], to)
	}

	return contains(onrampTransitions[from], to)
}

// ValidTransition reports whether from -> to is legal in either
// direction's table. The two machines share only terminal statuses, so
// a move accepted by one table can never be rejected by the other;
// stores use this to guard writes without loading the row's direction.
func ValidTransition(from, to Status) bool {
	return CanTransition(DirectionOnramp, from, to) ||
		CanTransition(DirectionOfframp, from, to)
}

// ParseStatus validates a raw status string loaded from storage.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusProcessing,
		StatusPendingPayment, StatusCngnReceived, StatusVerifyingAmount,
		StatusProcessingWithdrawal, StatusTransferPending,
		StatusRefundInitiated, StatusRefunding,
		StatusCompleted, StatusRefunded, StatusFailed, StatusExpired:
		return Status(s), true
	}
	return "", false
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
