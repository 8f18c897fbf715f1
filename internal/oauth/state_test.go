package oauth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRejectsInvalid(t *testing.T) {
	_, err := DecodeState([]byte(`{"schema_version":2,"refresh_token":"r"}`))
	assert.Error(t, err)

	_, err = DecodeState([]byte(`{"schema_version":1}`))
	assert.Error(t, err)

	_, err = DecodeState([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoadStateNotFound(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("http://minio.local:9000")
	require.NoError(t, err)
	assert.Equal(t, "minio.local:9000", host)
	assert.False(t, secure)

	host, secure, err = parseEndpoint("s3.amazonaws.com")
	require.NoError(t, err)
	assert.Equal(t, "s3.amazonaws.com", host)
	assert.True(t, secure)

	_, _, err = parseEndpoint("https://")
	assert.Error(t, err)
}
