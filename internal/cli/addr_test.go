package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalBarePortImpliesAllInterfaces(t *testing.T) {
	addr, tlsEnabled, err := parseLocal("9000")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", addr)
	assert.False(t, tlsEnabled)
}

func TestParseLocalPlusPrefixEnablesTLS(t *testing.T) {
	addr, tlsEnabled, err := parseLocal("+127.0.0.1:9443")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9443", addr)
	assert.True(t, tlsEnabled)
}

func TestParseLocalHostPortNoTLS(t *testing.T) {
	addr, tlsEnabled, err := parseLocal("0.0.0.0:9001")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9001", addr)
	assert.False(t, tlsEnabled)
}

func TestParseRemoteRequiresHostPort(t *testing.T) {
	_, _, err := parseRemote("9000")
	require.Error(t, err)
}

func TestParseRemotePlusPrefixEnablesTLS(t *testing.T) {
	addr, tlsEnabled, err := parseRemote("+example.com:443")
	require.NoError(t, err)
	assert.Equal(t, "example.com:443", addr)
	assert.True(t, tlsEnabled)
}
