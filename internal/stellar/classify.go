package stellar

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/stellar/go/clients/horizonclient"

	"github.com/nairabridge/server/internal/errors"
)

// Transaction-level result codes that indicate a transient condition:
// sequence contention, a Horizon-side fault, or an expired time bound.
// Resubmission with a fresh sequence number is safe for all of them.
var transientTxCodes = map[string]bool{
	"tx_bad_seq":        true,
	"tx_internal_error": true,
	"tx_too_late":       true,
}

// classifyHorizonError maps a Horizon client error onto the bridge's
// error taxonomy. Unknown result codes are treated as permanent: the
// safe default for a payment submitter is to stop and refund, never to
// blindly resubmit.
func classifyHorizonError(op string, err error) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Wrap(errors.KindExternalTransient, errors.ErrCodeNetworkError, op, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Wrap(errors.KindExternalTransient, errors.ErrCodeNetworkError, op, err)
	}

	var hErr *horizonclient.Error
	if stderrors.As(err, &hErr) {
		return errors.Wrap(classifyProblem(hErr), errors.ErrCodeHorizonError, op, err)
	}
	var hErrVal horizonclient.Error
	if stderrors.As(err, &hErrVal) {
		return errors.Wrap(classifyProblem(&hErrVal), errors.ErrCodeHorizonError, op, err)
	}

	// Anything else is plumbing between us and Horizon.
	return errors.Wrap(errors.KindExternalTransient, errors.ErrCodeNetworkError, op, err)
}

func classifyProblem(hErr *horizonclient.Error) errors.Kind {
	if codes, err := hErr.ResultCodes(); err == nil && codes != nil {
		if transientTxCodes[codes.TransactionCode] {
			return errors.KindExternalTransient
		}
		return errors.KindExternalPermanent
	}

	// No result codes: fall back to the HTTP status. Server faults and
	// rate limits are worth retrying; client errors are not.
	switch status := hErr.Problem.Status; {
	case status == 429, status >= 500:
		return errors.KindExternalTransient
	default:
		return errors.KindExternalPermanent
	}
}

func isNotFound(err error) bool {
	var hErr *horizonclient.Error
	if stderrors.As(err, &hErr) {
		return hErr.Problem.Status == 404
	}
	var hErrVal horizonclient.Error
	if stderrors.As(err, &hErrVal) {
		return hErrVal.Problem.Status == 404
	}
	return false
}
