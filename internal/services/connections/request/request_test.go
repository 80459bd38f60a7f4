package request

import (
	"testing"
	"time"
)

func TestParseChannel(t *testing.T) {
	for _, input := range []string{"email", " LINK ", "Code"} {
		if _, ok := ParseChannel(input); !ok {
			t.Fatalf("expected %q to parse", input)
		}
	}
	if _, ok := ParseChannel("sms"); ok {
		t.Fatal("expected sms to be rejected")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatal("pending is not terminal")
	}
	for _, status := range []Status{StatusAccepted, StatusDeclined, StatusCanceled, StatusExpired} {
		if !status.Terminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
}

func TestExpiredAtBoundary(t *testing.T) {
	expiresAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	req := ConnectionRequest{ExpiresAt: expiresAt}
	if req.ExpiredAt(expiresAt.Add(-time.Nanosecond)) {
		t.Fatal("request should be live before expiry")
	}
	if !req.ExpiredAt(expiresAt) {
		t.Fatal("request should be expired at its expiry instant")
	}
}

func TestParticipant(t *testing.T) {
	req := ConnectionRequest{InitiatorID: "a", CounterpartyID: "b"}
	if !req.Participant("a") || !req.Participant("b") {
		t.Fatal("initiator and counterparty are participants")
	}
	if req.Participant("c") || req.Participant("") {
		t.Fatal("unexpected participant")
	}
}

func TestNormalize(t *testing.T) {
	if got := NormalizeEmail("  B@Example.COM "); got != "b@example.com" {
		t.Fatalf("email = %q", got)
	}
	if got := NormalizeCode(" lz-abc234 "); got != "LZ-ABC234" {
		t.Fatalf("code = %q", got)
	}
}
