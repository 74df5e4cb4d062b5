package rest

import (
	"errors"
	"sync"
)

// Credential is one API key/secret pair.
type Credential struct {
	Key    string
	Secret string
}

// KeyPool rotates among multiple credential pairs to spread private-request
// nonce pressure across keys. Rotation happens after each private call, not
// before, so a failing call can still be attributed to the key that made it.
type KeyPool struct {
	mu    sync.Mutex
	creds []Credential
	idx   int
}

// NewKeyPool creates a pool from at least one credential pair.
func NewKeyPool(creds []Credential) (*KeyPool, error) {
	if len(creds) == 0 {
		return nil, errors.New("key pool requires at least one credential")
	}
	for _, c := range creds {
		if c.Key == "" || c.Secret == "" {
			return nil, errors.New("key pool credential with empty key or secret")
		}
	}
	pool := &KeyPool{creds: make([]Credential, len(creds))}
	copy(pool.creds, creds)
	return pool, nil
}

// Current returns the credential the next private call should sign with.
func (p *KeyPool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[p.idx]
}

// Rotate advances to the next credential pair.
func (p *KeyPool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idx = (p.idx + 1) % len(p.creds)
}

// Size returns the number of credential pairs in the pool.
func (p *KeyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}
