package integration

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Kind identifies the vendor behind an integration.
type Kind string

const (
	KindPiHole  Kind = "piHole"
	KindSABnzbd Kind = "sabNzbd"
	KindSonarr  Kind = "sonarr"
)

// ParseKind matches s case-insensitively against the known kinds.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindPiHole, KindSABnzbd, KindSonarr} {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// SecretKind names the role of a stored credential.
type SecretKind string

const (
	SecretAPIKey   SecretKind = "apiKey"
	SecretUsername SecretKind = "username"
	SecretPassword SecretKind = "password"
)

// Secret is an encrypted credential attached to an integration.
type Secret struct {
	Kind           SecretKind `json:"kind"`
	EncryptedValue string     `json:"-"`
}

// Record is the read-only shape of a configured integration.
type Record struct {
	ID      string   `json:"id"`
	Kind    Kind     `json:"kind"`
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Secrets []Secret `json:"secrets,omitempty"`
}

// LogValue keeps secrets out of structured logs.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("kind", string(r.Kind)),
		slog.String("name", r.Name),
	)
}

// Credentials holds decrypted secrets for the duration of one client
// construction. Never store or log it.
type Credentials map[SecretKind]string

// Require returns the credential of the given kind.
func (c Credentials) Require(kind SecretKind) (string, error) {
	v, ok := c[kind]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSecret, kind)
	}
	return v, nil
}

// Source lists the integrations jobs iterate over.
type Source interface {
	Integrations(ctx context.Context) ([]Record, error)
}

// StaticSource is a fixed set of integrations, typically loaded from config.
type StaticSource []Record

func (s StaticSource) Integrations(context.Context) ([]Record, error) {
	return slices.Clone(s), nil
}
