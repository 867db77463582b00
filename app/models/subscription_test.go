package models

import "testing"

func TestSubscriptionIsEntitled(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{SubscriptionStatusActive, true},
		{SubscriptionStatusTrialing, true},
		{SubscriptionStatusPastDue, false},
		{SubscriptionStatusCanceled, false},
		{SubscriptionStatusExpired, false},
		{"", false},
	}
	for _, tc := range tests {
		s := Subscription{Status: tc.status}
		if got := s.IsEntitled(); got != tc.want {
			t.Fatalf("IsEntitled() with status %q = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestSubscriptionHasGateway(t *testing.T) {
	if (&Subscription{}).HasGateway() {
		t.Fatal("free-tier subscription must not report a gateway")
	}
	if !(&Subscription{Gateway: "stripe"}).HasGateway() {
		t.Fatal("linked subscription must report a gateway")
	}
}

func TestValidSubscriptionStatus(t *testing.T) {
	for _, s := range []string{
		SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusExpired,
	} {
		if !ValidSubscriptionStatus(s) {
			t.Fatalf("status %q should be valid", s)
		}
	}
	for _, s := range []string{"", "ACTIVE", "paused", "incomplete"} {
		if ValidSubscriptionStatus(s) {
			t.Fatalf("status %q should be invalid", s)
		}
	}
}

func TestValidBillingCycle(t *testing.T) {
	if !ValidBillingCycle(BillingCycleMonthly) || !ValidBillingCycle(BillingCycleYearly) {
		t.Fatal("monthly and yearly must be valid cycles")
	}
	if ValidBillingCycle("weekly") || ValidBillingCycle("") {
		t.Fatal("unknown cycles must be rejected")
	}
}
