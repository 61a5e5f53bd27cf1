package auth

import (
	"os"
	"time"
)

// EnvironmentStore reads secrets from the process environment. Read-only:
// writes succeed silently so the manager chain can fall through it, but
// nothing is persisted.
type EnvironmentStore struct{}

// NewEnvironmentStore creates the environment-backed store.
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is a no-op: the environment cannot be written durably.
func (e *EnvironmentStore) Store(cred *Credential) error {
	return nil
}

// Retrieve builds a credential from the environment. name is ignored; the
// environment holds at most one bundle.
func (e *EnvironmentStore) Retrieve(name string) (*Credential, error) {
	sessionID := os.Getenv("IGMONITOR_SESSION_ID")
	botToken := os.Getenv("IGMONITOR_BOT_TOKEN")
	if sessionID == "" && botToken == "" {
		return nil, ErrCredentialsNotFound
	}

	return &Credential{
		Name:         "environment",
		SessionID:    sessionID,
		BotToken:     botToken,
		UserAgent:    os.Getenv("IGMONITOR_USER_AGENT"),
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is a no-op for environment credentials.
func (e *EnvironmentStore) Delete(name string) error {
	return ErrCredentialsNotFound
}

func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
