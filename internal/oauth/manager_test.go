package oauth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	if data, ok := m.data[provider]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func newTokenServer(t *testing.T, refreshRequests *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form := string(body)
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			if strings.Contains(form, "grant_type=refresh_token") {
				atomic.AddInt32(refreshRequests, 1)
				if !strings.Contains(form, "refresh_token=refresh-1") {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
					return
				}
				_, _ = io.WriteString(w, `{"access_token":"access-1","refresh_token":"refresh-2","expires_in":600,"token_type":"Bearer"}`)
				return
			}
			if strings.Contains(form, "device_code=dev-code") {
				_, _ = io.WriteString(w, `{"access_token":"access-device","refresh_token":"refresh-device","expires_in":600,"token_type":"Bearer"}`)
				return
			}
			w.WriteHeader(http.StatusBadRequest)
		case "/device":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"device_code":"dev-code","user_code":"ABC123","verification_uri":"https://login.example/device","expires_in":300,"interval":1}`)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
}

func testDecl(serverURL, statePath string) Declaration {
	return Declaration{
		Provider:      "tado",
		ClientID:      "client-id",
		TokenURL:      serverURL + "/token",
		DeviceAuthURL: serverURL + "/device",
		Scope:         "offline_access",
		StatePath:     statePath,
	}
}

func TestAccessTokenRefreshesAndPersistsRotation(t *testing.T) {
	var refreshes int32
	server := newTokenServer(t, &refreshes)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "refresh_token.json")
	require.NoError(t, WriteState(statePath, State{ClientID: "client-id", RefreshToken: "refresh-1", Scope: "offline_access"}))

	blob := &memoryBlobStore{}
	manager, err := NewManager(testDecl(server.URL, statePath), blob, nil)
	require.NoError(t, err)
	assert.False(t, manager.NeedsActivation())

	token, err := manager.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	// cached until expiry
	token, err = manager.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	state, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", state.RefreshToken)

	info, err := os.Stat(statePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	mirrored, err := DecodeState(blob.data["tado"])
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", mirrored.RefreshToken)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	var refreshes int32
	server := newTokenServer(t, &refreshes)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteState(statePath, State{ClientID: "client-id", RefreshToken: "refresh-1"}))

	manager, err := NewManager(testDecl(server.URL, statePath), nil, nil)
	require.NoError(t, err)

	_, err = manager.AccessToken(context.Background())
	require.NoError(t, err)

	// the rotated token is unknown to the test server
	manager.Invalidate()
	_, err = manager.AccessToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&refreshes))
}

func TestAccessTokenWithoutActivation(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "missing.json")
	manager, err := NewManager(testDecl("http://127.0.0.1:0", statePath), nil, nil)
	require.NoError(t, err)
	assert.True(t, manager.NeedsActivation())

	_, err = manager.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNotActivated)
}

func TestAcquireRunsDeviceActivation(t *testing.T) {
	var refreshes int32
	server := newTokenServer(t, &refreshes)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	manager, err := NewManager(testDecl(server.URL, statePath), nil, nil)
	require.NoError(t, err)

	require.NoError(t, manager.Acquire(context.Background()))
	assert.False(t, manager.NeedsActivation())

	token, err := manager.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-device", token.AccessToken)

	state, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, "refresh-device", state.RefreshToken)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes))
}

func TestNewManagerRestoresFromBlob(t *testing.T) {
	blob := &memoryBlobStore{data: map[string][]byte{
		"tado": []byte(`{"schema_version":1,"client_id":"client-id","refresh_token":"from-blob","scope":"offline_access"}`),
	}}
	statePath := filepath.Join(t.TempDir(), "nested", "state.json")

	manager, err := NewManager(testDecl("http://127.0.0.1:0", statePath), blob, nil)
	require.NoError(t, err)
	assert.False(t, manager.NeedsActivation())

	state, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, "from-blob", state.RefreshToken)
}

func TestNewManagerScopeMismatch(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteState(statePath, State{RefreshToken: "r", Scope: "something_else"}))

	_, err := NewManager(testDecl("http://127.0.0.1:0", statePath), nil, nil)
	assert.ErrorIs(t, err, ErrScopeMismatch)
}

func TestNewManagerValidatesDeclaration(t *testing.T) {
	_, err := NewManager(Declaration{}, nil, nil)
	assert.Error(t, err)
}
