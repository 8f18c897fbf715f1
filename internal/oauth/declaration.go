package oauth

// Declaration describes the OAuth client and where its state lives.
type Declaration struct {
	Provider      string
	ClientID      string
	TokenURL      string
	DeviceAuthURL string
	Scope         string
	StatePath     string
}
