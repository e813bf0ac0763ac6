package transaction

import (
	"testing"
	"time"
)

func TestMetadataJSONRoundTrip(t *testing.T) {
	m := Metadata{
		AccountName:   "John Doe",
		AccountNumber: "0123456789",
		BankCode:      "058",
	}

	parsed, err := MetadataFromJSON(m.ToJSON())
	if err != nil {
		t.Fatalf("MetadataFromJSON: %v", err)
	}
	if parsed.AccountName != "John Doe" || parsed.AccountNumber != "0123456789" || parsed.BankCode != "058" {
		t.Errorf("bank details lost in round trip: %+v", parsed)
	}
	if parsed.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", parsed.RetryCount)
	}
}

func TestMetadataFromJSONEmpty(t *testing.T) {
	m, err := MetadataFromJSON(nil)
	if err != nil {
		t.Fatalf("MetadataFromJSON(nil): %v", err)
	}
	if m.HasBankDetails() {
		t.Error("zero metadata reports bank details")
	}
}

func TestRetryEligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var m Metadata
	if !m.RetryEligible(now) {
		t.Error("unset gate should not block")
	}

	m.ScheduleRetry(1, 2*time.Minute, now)
	if m.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", m.RetryCount)
	}
	if m.RetryEligible(now.Add(time.Minute)) {
		t.Error("gate should block before next_retry_after")
	}
	if !m.RetryEligible(now.Add(2 * time.Minute)) {
		t.Error("gate should open exactly at next_retry_after")
	}

	m.NextRetryAfter = "garbage"
	if !m.RetryEligible(now) {
		t.Error("unparseable gate must never block progress")
	}
}
