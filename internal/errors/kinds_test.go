package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(KindExternalTransient, ErrCodeNetworkError, "connection reset")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", base, KindExternalTransient},
		{"wrapped once", fmt.Errorf("submit: %w", base), KindExternalTransient},
		{"wrapped twice", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", base)), KindExternalTransient},
		{"unclassified defaults to infrastructure", stderrors.New("plain"), KindInfrastructure},
		{"permanent", New(KindExternalPermanent, ErrCodeHorizonError, "op_no_trust"), KindExternalPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(New(KindExternalTransient, ErrCodeNetworkError, "timeout")) {
		t.Error("transient error not reported transient")
	}
	if IsTransient(New(KindExternalPermanent, ErrCodeHorizonError, "no trust")) {
		t.Error("permanent error reported transient")
	}
	if IsTransient(stderrors.New("plain")) {
		t.Error("unclassified error reported transient")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidAmount, 400},
		{ErrCodeInvalidSignature, 401},
		{ErrCodeTransactionNotFound, 404},
		{ErrCodeQuoteExpired, 409},
		{ErrCodeHorizonError, 502},
		{ErrCodeInternalError, 500},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}
