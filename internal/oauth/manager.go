// Package oauth provides the Tado credential provider: a refresh-token
// backed access token source with device-code activation.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	// ErrNotActivated means no refresh token is stored and Activate has not run.
	ErrNotActivated  = errors.New("oauth device not activated")
	ErrScopeMismatch = errors.New("oauth scope mismatch")
)

const expiryLeeway = 30 * time.Second

// Manager hands out access tokens and keeps the rotating refresh token
// persisted to disk (and optionally a blob store).
type Manager struct {
	decl       Declaration
	blobStore  BlobStore
	httpClient *http.Client
	config     *oauth2.Config
	log        *zap.SugaredLogger

	mu           sync.Mutex
	token        *oauth2.Token
	refreshToken string
}

// NewManager loads the existing state, if any. blobStore may be nil.
func NewManager(decl Declaration, blobStore BlobStore, log *zap.SugaredLogger) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.ClientID == "" {
		return nil, fmt.Errorf("clientID is required")
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if decl.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	m := &Manager{
		decl:       decl,
		blobStore:  blobStore,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
		config: &oauth2.Config{
			ClientID: decl.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:      decl.TokenURL,
				DeviceAuthURL: decl.DeviceAuthURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
			Scopes: strings.Fields(decl.Scope),
		},
	}

	state, err := m.loadInitialState(context.Background())
	if err != nil {
		return nil, err
	}
	m.refreshToken = state.RefreshToken
	return m, nil
}

// NeedsActivation reports whether no refresh token is available.
func (m *Manager) NeedsActivation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken == ""
}

// Acquire makes sure a usable access token exists, running the device
// activation first when there is no refresh token yet.
func (m *Manager) Acquire(ctx context.Context) error {
	if m.NeedsActivation() {
		if err := m.Activate(ctx); err != nil {
			return err
		}
	}
	_, err := m.AccessToken(ctx)
	return err
}

// Activate runs the device authorization grant and blocks until the user
// approves it at the logged URL or the device code expires.
func (m *Manager) Activate(ctx context.Context) error {
	if m.decl.DeviceAuthURL == "" {
		return fmt.Errorf("device activation: %w", ErrNotActivated)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	auth, err := m.config.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("device authorization: %w", err)
	}
	url := auth.VerificationURIComplete
	if url == "" {
		url = auth.VerificationURI
	}
	m.log.Infow("Device activation required, open the URL to authorize",
		"url", url, "user_code", auth.UserCode, "expires", auth.Expiry)

	token, err := m.config.DeviceAccessToken(ctx, auth)
	if err != nil {
		return fmt.Errorf("device token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(ctx, token)
	m.log.Info("Device activated")
	return nil
}

// AccessToken returns a valid access token, refreshing it when needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && m.token.AccessToken != "" && time.Until(m.token.Expiry) > expiryLeeway {
		return m.token.AccessToken, nil
	}
	if m.refreshToken == "" {
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		return "", ErrNotActivated
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}
	return m.token.AccessToken, nil
}

// Token implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	if _, err := m.AccessToken(context.Background()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

// Invalidate drops the cached access token so the next call refreshes.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: m.refreshToken})
	token, err := source.Token()
	if err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		return fmt.Errorf("token refresh: %w", err)
	}
	m.storeLocked(ctx, token)
	refreshSuccess.WithLabelValues(m.decl.Provider).Inc()
	return nil
}

// storeLocked caches token and persists a rotated refresh token. Persistence
// failures are logged; the in-memory token stays usable.
func (m *Manager) storeLocked(ctx context.Context, token *oauth2.Token) {
	m.token = token
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	if token.RefreshToken == "" || token.RefreshToken == m.refreshToken {
		return
	}
	m.refreshToken = token.RefreshToken

	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      m.decl.ClientID,
		RefreshToken:  m.refreshToken,
		Scope:         m.decl.Scope,
	}
	if err := WriteState(m.decl.StatePath, state); err != nil {
		m.log.Errorw("Cannot persist refresh token", "path", m.decl.StatePath, "error", err)
	}
	if err := m.persistBlob(ctx, state); err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		m.log.Warnw("Cannot mirror refresh token", "error", err)
		return
	}
	if m.blobStore != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
	}
}

func (m *Manager) loadInitialState(ctx context.Context) (State, error) {
	local, localErr := LoadState(m.decl.StatePath)
	if localErr == nil {
		if err := m.checkScope(local); err != nil {
			return State{}, err
		}
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if m.blobStore == nil {
		return State{}, nil
	}
	blob, err := m.loadFromBlob(ctx)
	if errors.Is(err, ErrBlobNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load blob state: %w", err)
	}
	if err := m.checkScope(blob); err != nil {
		return State{}, err
	}
	if err := WriteState(m.decl.StatePath, blob); err != nil {
		return State{}, err
	}
	m.log.Infow("Restored refresh token from blob store", "path", m.decl.StatePath)
	return blob, nil
}

func (m *Manager) checkScope(state State) error {
	if state.Scope != "" && m.decl.Scope != "" && state.Scope != m.decl.Scope {
		return ErrScopeMismatch
	}
	return nil
}

func (m *Manager) loadFromBlob(ctx context.Context) (State, error) {
	data, err := m.blobStore.Load(ctx, m.decl.Provider)
	if err != nil {
		return State{}, err
	}
	return DecodeState(data)
}

func (m *Manager) persistBlob(ctx context.Context, state State) error {
	if m.blobStore == nil {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return m.blobStore.Save(ctx, m.decl.Provider, data)
}
