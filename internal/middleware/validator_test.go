package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTarget(t *testing.T) {
	t.Parallel()

	valid := []string{
		"10.0.0.5",
		"2001:db8::1",
		"10.0.0.0/24",
		"web01.internal",
		"example.com",
		"https://example.com:8443/app",
		"http://10.0.0.5",
	}
	for _, target := range valid {
		require.NoError(t, ValidateTarget(target), target)
	}

	invalid := []string{
		"",
		"   ",
		"10.0.0.5; rm -rf /",
		"host`id`",
		"$(whoami).example.com",
		"a&b",
		"host1 host2",
		"https://",
		"-leading-dash.example.com",
	}
	for _, target := range invalid {
		require.Error(t, ValidateTarget(target), target)
	}
}

func TestValidateTenantID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTenantID("acme-corp_01"))
	require.Error(t, ValidateTenantID(""))
	require.Error(t, ValidateTenantID("bad/tenant"))
	require.Error(t, ValidateTenantID("acme corp"))
}

func TestSanitizeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello", SanitizeString("  hello\x00 "))
	require.Equal(t, "a\tb", SanitizeString("a\tb\x07"))
}

func TestValidateLimitAndDays(t *testing.T) {
	t.Parallel()

	require.Equal(t, 20, ValidateLimit(0))
	require.Equal(t, 100, ValidateLimit(1000))
	require.Equal(t, 33, ValidateLimit(33))

	require.Equal(t, 7, ValidateDays(-1))
	require.Equal(t, 365, ValidateDays(9999))
	require.Equal(t, 30, ValidateDays(30))
}
