package integration

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Client is the common part of every vendor client.
type Client interface {
	Kind() Kind
}

// Factory builds a client for record with its decrypted credentials. The
// factory must not retain creds beyond the client it returns.
type Factory func(record Record, creds Credentials) (Client, error)

// Decrypter turns a stored secret value into plaintext.
type Decrypter interface {
	Decrypt(encrypted string) (string, error)
}

type registration struct {
	factory      Factory
	capabilities []Capability
}

// Registry resolves integration kinds to client factories and records which
// capabilities each kind provides.
type Registry struct {
	mu    sync.RWMutex
	kinds map[Kind]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[Kind]registration)}
}

// Register adds a factory for kind. Registering a kind twice replaces it.
func (r *Registry) Register(kind Kind, factory Factory, capabilities ...Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = registration{factory: factory, capabilities: slices.Clone(capabilities)}
}

// Supports reports whether kind is registered with capability.
func (r *Registry) Supports(kind Kind, capability Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.kinds[kind]
	return ok && slices.Contains(reg.capabilities, capability)
}

// KindsWith returns the sorted kinds providing capability.
func (r *Registry) KindsWith(capability Capability) []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var kinds []Kind
	for kind, reg := range r.kinds {
		if slices.Contains(reg.capabilities, capability) {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds)
	return kinds
}

// Filter returns the records whose kind provides capability, preserving order.
func (r *Registry) Filter(records []Record, capability Capability) []Record {
	var out []Record
	for _, rec := range records {
		if r.Supports(rec.Kind, capability) {
			out = append(out, rec)
		}
	}
	return out
}

// Create decrypts record's secrets and builds its client. Decrypted values
// only live for the duration of this call and whatever the client keeps to
// authenticate its requests.
func (r *Registry) Create(ctx context.Context, decrypter Decrypter, record Record) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	reg, ok := r.kinds[record.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("integration %s: %w: %q", record.ID, ErrUnknownKind, record.Kind)
	}

	creds := make(Credentials, len(record.Secrets))
	for _, secret := range record.Secrets {
		plain, err := decrypter.Decrypt(secret.EncryptedValue)
		if err != nil {
			return nil, fmt.Errorf("integration %s: secret %s: %w", record.ID, secret.Kind, err)
		}
		creds[secret.Kind] = plain
	}

	client, err := reg.factory(record, creds)
	clear(creds)
	if err != nil {
		return nil, fmt.Errorf("integration %s: %w", record.ID, err)
	}
	return client, nil
}

// As returns client as capability interface C, or ErrUnsupportedCapability.
func As[C Client](client Client) (C, error) {
	c, ok := client.(C)
	if !ok {
		var zero C
		return zero, fmt.Errorf("%w: %s client does not implement %T", ErrUnsupportedCapability, client.Kind(), (*C)(nil))
	}
	return c, nil
}

// CreateAs is Create followed by As.
func CreateAs[C Client](ctx context.Context, r *Registry, decrypter Decrypter, record Record) (C, error) {
	client, err := r.Create(ctx, decrypter, record)
	if err != nil {
		var zero C
		return zero, err
	}
	return As[C](client)
}
