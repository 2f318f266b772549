package signer

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TrustMap is the peer-common-name → public-key table the bus uses to
// verify signatures by peer identity. It is read-mostly
// and safe to reload atomically on SIGHUP: a new map is built, then the
// reference is swapped.
type TrustMap struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewTrustMap builds an empty trust map.
func NewTrustMap() *TrustMap {
	return &TrustMap{keys: make(map[string]ed25519.PublicKey)}
}

// LoadTrustMapDir loads one PEM public key per file from dir. Each file's
// basename (without extension) is treated as the peer common name, e.g.
// "agent-01.pem" trusts CN "agent-01".
func LoadTrustMapDir(dir string) (*TrustMap, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("signer: read trust dir: %w", err)
	}
	keys := make(map[string]ed25519.PublicKey, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		cn := strings.TrimSuffix(entry.Name(), ".pem")
		pub, err := LoadPublicKey(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("signer: load trust entry %s: %w", cn, err)
		}
		keys[cn] = pub
	}
	return &TrustMap{keys: keys}, nil
}

// Lookup returns the public key trusted for peer common name cn.
func (t *TrustMap) Lookup(cn string) (ed25519.PublicKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pk, ok := t.keys[cn]
	return pk, ok
}

// Set installs or replaces the public key trusted for cn.
func (t *TrustMap) Set(cn string, pub ed25519.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[cn] = pub
}

// Reload atomically swaps in a freshly-loaded trust map, for use on
// SIGHUP. The old map is discarded as a whole rather than mutated
// in-place, so concurrent readers never see a partially-updated table.
func (t *TrustMap) Reload(dir string) error {
	fresh, err := LoadTrustMapDir(dir)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.keys = fresh.keys
	t.mu.Unlock()
	return nil
}

// Size returns the number of trusted peers, used for readiness checks and
// logging.
func (t *TrustMap) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}
