package pulsefeed

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"

	"github.com/jpalmerr/pulsefeed/internal/integration"
	"github.com/jpalmerr/pulsefeed/internal/secrets"
)

// Secret kinds accepted in [Integration.Secrets].
const (
	SecretAPIKey   = string(integration.SecretAPIKey)
	SecretUsername = string(integration.SecretUsername)
	SecretPassword = string(integration.SecretPassword)
)

// Integration is one configured upstream service.
//
// Kind selects the adapter: "piHole", "sabNzbd" or "sonarr" (matched
// case-insensitively). Secrets maps a secret kind ([SecretAPIKey],
// [SecretUsername], [SecretPassword]) to its encrypted value, as produced by
// the encrypt command. Values are decrypted only while an adapter client is
// being built.
type Integration struct {
	ID      string
	Kind    string
	Name    string
	URL     string
	Secrets map[string]string
}

var secretKinds = []string{SecretAPIKey, SecretUsername, SecretPassword}

// record validates i and converts it to the internal read-only shape.
func (i Integration) record() (integration.Record, error) {
	if i.ID == "" {
		return integration.Record{}, errors.New("integration id is required")
	}
	kind, err := integration.ParseKind(i.Kind)
	if err != nil {
		return integration.Record{}, fmt.Errorf("integration %q: %w", i.ID, err)
	}

	u, err := url.Parse(i.URL)
	if err != nil {
		return integration.Record{}, fmt.Errorf("integration %q: invalid url: %w", i.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return integration.Record{}, fmt.Errorf("integration %q: url scheme must be http or https", i.ID)
	}

	name := i.Name
	if name == "" {
		name = i.ID
	}

	rec := integration.Record{ID: i.ID, Kind: kind, Name: name, URL: i.URL}
	// sorted for deterministic adapter input
	for _, k := range slices.Sorted(maps.Keys(i.Secrets)) {
		if !slices.Contains(secretKinds, k) {
			return integration.Record{}, fmt.Errorf("integration %q: unknown secret kind %q", i.ID, k)
		}
		rec.Secrets = append(rec.Secrets, integration.Secret{
			Kind:           integration.SecretKind(k),
			EncryptedValue: i.Secrets[k],
		})
	}
	return rec, nil
}

func (i Integration) clone() Integration {
	i.Secrets = maps.Clone(i.Secrets)
	return i
}

// EncryptSecret encrypts plaintext for use in [Integration.Secrets] with the
// key later passed to [WithEncryptionKey].
func EncryptSecret(key, plaintext string) (string, error) {
	r, err := secrets.NewResolver(key)
	if err != nil {
		return "", err
	}
	return r.Encrypt(plaintext)
}

// GenerateEncryptionKey returns a new random key of 64 hex characters.
func GenerateEncryptionKey() (string, error) {
	return secrets.GenerateKey()
}
