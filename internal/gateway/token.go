package gateway

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// expiryMargin invalidates a cached token shortly before the remote side
// would. Five minutes absorbs clock skew and in-flight request latency.
const expiryMargin = 5 * time.Minute

// cachedToken is the persisted credential record. Keyed by the app key it
// was issued for so a key change invalidates the cache.
type cachedToken struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
	IssuedForKey string    `json:"issued_for_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// valid reports whether the cached token can be used for the given key.
func (t *cachedToken) valid(appKey string, now time.Time) bool {
	if t.Token == "" || t.IssuedForKey != appKey {
		return false
	}
	return now.Add(expiryMargin).Before(t.ExpiresAt)
}

// loadToken reads a persisted token record. Any failure is treated as a
// cache miss.
func loadToken(path string) (*cachedToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t cachedToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// saveToken persists a token record with restricted permissions.
func saveToken(path string, t *cachedToken) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
