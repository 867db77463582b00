package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetAndReplace(t *testing.T) {
	stripe := &fakeGateway{provider: ProviderStripe}
	reg := NewRegistry(stripe, nil)

	gw, err := reg.Get(ProviderStripe)
	require.NoError(t, err)
	assert.Same(t, Gateway(stripe), gw)

	_, err = reg.Get(ProviderPayPal)
	assert.Equal(t, KindNotFound, KindOf(err))

	// Hot credential reload swaps the full set.
	paypal := &fakeGateway{provider: ProviderPayPal}
	reg.Replace(paypal)

	_, err = reg.Get(ProviderStripe)
	assert.Equal(t, KindNotFound, KindOf(err))
	gw, err = reg.Get(ProviderPayPal)
	require.NoError(t, err)
	assert.Same(t, Gateway(paypal), gw)
}

func TestRegistryProvidersStableOrder(t *testing.T) {
	reg := NewRegistry(
		&fakeGateway{provider: ProviderStripe},
		&fakeGateway{provider: ProviderPayPal},
	)
	assert.Equal(t, []Provider{ProviderPayPal, ProviderStripe}, reg.Providers())
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
		ok   bool
	}{
		{"stripe", ProviderStripe, true},
		{"paypal", ProviderPayPal, true},
		{"Stripe", "", false},
		{"square", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseProvider(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseProvider(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
