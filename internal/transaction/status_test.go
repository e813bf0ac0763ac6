package transaction

import "testing"

func TestOnrampTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to refunded", StatusPending, StatusRefunded, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to refunded", StatusProcessing, StatusRefunded, true},

		{"pending to completed skips processing", StatusPending, StatusCompleted, false},
		{"completed is terminal", StatusCompleted, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusRefunded, false},
		{"refunded is terminal", StatusRefunded, StatusPending, false},
		{"no self transition", StatusPending, StatusPending, false},
		{"offramp state invalid for onramp", StatusPending, StatusCngnReceived, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(DirectionOnramp, tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(onramp, %s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOfframpTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending_payment to cngn_received", StatusPendingPayment, StatusCngnReceived, true},
		{"cngn_received to verifying_amount", StatusCngnReceived, StatusVerifyingAmount, true},
		{"verifying_amount to processing_withdrawal", StatusVerifyingAmount, StatusProcessingWithdrawal, true},
		{"processing_withdrawal to transfer_pending", StatusProcessingWithdrawal, StatusTransferPending, true},
		{"transfer_pending to completed", StatusTransferPending, StatusCompleted, true},
		{"pending_payment to expired", StatusPendingPayment, StatusExpired, true},

		// Refund sub-protocol: any non-terminal state may initiate.
		{"pending_payment to refund_initiated", StatusPendingPayment, StatusRefundInitiated, true},
		{"cngn_received to refund_initiated", StatusCngnReceived, StatusRefundInitiated, true},
		{"verifying_amount to refund_initiated", StatusVerifyingAmount, StatusRefundInitiated, true},
		{"processing_withdrawal to refund_initiated", StatusProcessingWithdrawal, StatusRefundInitiated, true},
		{"transfer_pending to refund_initiated", StatusTransferPending, StatusRefundInitiated, true},
		{"refund_initiated to refunding", StatusRefundInitiated, StatusRefunding, true},
		{"refunding to refunded", StatusRefunding, StatusRefunded, true},
		{"refunding to failed", StatusRefunding, StatusFailed, true},

		{"pending_payment cannot skip to processing_withdrawal", StatusPendingPayment, StatusProcessingWithdrawal, false},
		{"cngn_received cannot jump to completed", StatusCngnReceived, StatusCompleted, false},
		{"completed cannot enter refund", StatusCompleted, StatusRefundInitiated, false},
		{"refunded cannot re-enter refund", StatusRefunded, StatusRefundInitiated, false},
		{"refunding cannot re-initiate", StatusRefunding, StatusRefundInitiated, false},
		{"expired is terminal", StatusExpired, StatusCngnReceived, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(DirectionOfframp, tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(offramp, %s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"onramp-only pair", StatusPending, StatusProcessing, true},
		{"offramp-only pair", StatusRefundInitiated, StatusRefunding, true},
		{"refund failure pair", StatusRefunding, StatusFailed, true},
		{"in neither table", StatusPending, StatusCompleted, false},
		{"terminal to anything", StatusCompleted, StatusRefundInitiated, false},
		{"self transition", StatusRefunding, StatusRefunding, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestInitialStatus(t *testing.T) {
	if got := InitialStatus(DirectionOnramp); got != StatusPending {
		t.Errorf("InitialStatus(onramp) = %s, want pending", got)
	}
	if got := InitialStatus(DirectionOfframp); got != StatusPendingPayment {
		t.Errorf("InitialStatus(offramp) = %s, want pending_payment", got)
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("cngn_received"); !ok || s != StatusCngnReceived {
		t.Errorf("ParseStatus(cngn_received) = %s, %v", s, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Error("ParseStatus accepted unknown status")
	}
}
