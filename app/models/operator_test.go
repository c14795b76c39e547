package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorIssueAPIKey(t *testing.T) {
	o := &Operator{Name: "Ops", Email: "ops@example.com"}

	key, err := o.IssueAPIKey()
	require.NoError(t, err)
	require.NotEmpty(t, key)

	assert.NotEmpty(t, o.APIKeyHash)
	assert.NotEmpty(t, o.APIKeyPrefix)
	assert.NotNil(t, o.APIKeyCreatedAt)
	assert.Nil(t, o.APIKeyLastUsedAt)
	assert.Equal(t, HashAPIKey(key), o.APIKeyHash)
}

func TestOperatorRevokeAPIKey(t *testing.T) {
	o := &Operator{Name: "Ops", Email: "ops@example.com"}
	_, err := o.IssueAPIKey()
	require.NoError(t, err)

	o.RevokeAPIKey()

	assert.Equal(t, "", o.APIKeyHash)
	assert.Equal(t, "", o.APIKeyPrefix)
	assert.Nil(t, o.APIKeyCreatedAt)
}

func TestCreateOperatorHashesPassword(t *testing.T) {
	o, err := CreateOperator("Admin One", "admin@example.com", "secret123", ROLE_ADMIN)
	require.NoError(t, err)

	assert.NotEqual(t, "secret123", o.Password)
	assert.True(t, o.CheckPassword("secret123"))
	assert.False(t, o.CheckPassword("wrong"))
	assert.True(t, o.IsAdmin())
	assert.True(t, o.IsActive())
}

func TestCreateOperatorRejectsInvalidInput(t *testing.T) {
	_, err := CreateOperator("Ab", "not-an-email", "secret123", ROLE_ADMIN)
	assert.Error(t, err)
}

func TestPlanFeaturesRoundTrip(t *testing.T) {
	p := &Plan{}
	require.NoError(t, p.SetFeatures([]string{"unlimited devices", "priority support"}))

	got := p.FeatureList()
	require.Len(t, got, 2)
	assert.Equal(t, "unlimited devices", got[0])
	assert.Equal(t, "priority support", got[1])
}

func TestPlanDataLimitBytes(t *testing.T) {
	p := &Plan{DataLimitGB: 50}
	assert.Equal(t, int64(50*1024*1024*1024), p.DataLimitBytes())
}

func TestShopSettingsEnabledMethods(t *testing.T) {
	s := &ShopSettings{
		CardNumber:        "6037-9911-2233-4455",
		CardToCardEnabled: true,
		CryptoEnabled:     true, // no wallet configured, must not be offered
		GatewayEnabled:    true,
	}

	methods := s.EnabledMethods()
	assert.Contains(t, methods, PaymentMethodCardToCard)
	assert.Contains(t, methods, PaymentMethodHostedGateway)
	assert.NotContains(t, methods, PaymentMethodCrypto)
}
