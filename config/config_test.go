package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPortInt_UsesDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, 8000, GetPortInt("FNRELAY_PORT_TEST_UNSET", 8000))
}

func TestGetPortInt_ParsesEnvValue(t *testing.T) {
	t.Setenv("FNRELAY_PORT_TEST", "9090")
	assert.Equal(t, 9090, GetPortInt("FNRELAY_PORT_TEST", 8000))
}

func TestGetPortInt_RejectsOutOfRange(t *testing.T) {
	t.Setenv("FNRELAY_PORT_TEST_BAD", "70000")
	assert.Equal(t, 8000, GetPortInt("FNRELAY_PORT_TEST_BAD", 8000))
}

func TestGetPortInt_RejectsNonNumeric(t *testing.T) {
	t.Setenv("FNRELAY_PORT_TEST_NAN", "not-a-port")
	assert.Equal(t, 8000, GetPortInt("FNRELAY_PORT_TEST_NAN", 8000))
}

func TestGetPortInt_EmptyEnvVarNameUsesDefault(t *testing.T) {
	assert.Equal(t, 1234, GetPortInt("", 1234))
}

func TestValidator_IsValidWithNoErrors(t *testing.T) {
	v := NewValidator()
	v.RequireString("username", "alice")
	assert.True(t, v.IsValid())
	require.NoError(t, v.Validate())
}

func TestValidator_RequireStringCollectsMissingFields(t *testing.T) {
	v := NewValidator()
	v.RequireString("username", "")
	v.RequireString("password", "")
	assert.False(t, v.IsValid())
	err := v.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username is required")
	assert.Contains(t, err.Error(), "password is required")
}

func TestValidator_RequireOneOfRejectsUnknownValue(t *testing.T) {
	v := NewValidator()
	v.RequireOneOf("role", "wizard", []string{"admin", "user"})
	assert.False(t, v.IsValid())
	assert.Contains(t, v.Validate().Error(), "role must be one of: admin, user")
}

func TestValidator_RequireOneOfAcceptsAllowedValue(t *testing.T) {
	v := NewValidator()
	v.RequireOneOf("role", "admin", []string{"admin", "user"})
	assert.True(t, v.IsValid())
}
