package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProhibitedTV/ChoomLang/internal/paths"
)

// DefaultModelsTTL bounds how long a model listing is trusted.
const DefaultModelsTTL = 30 * time.Second

type entry struct {
	BaseURL string    `json:"base_url"`
	Models  []string  `json:"models"`
	Created time.Time `json:"created"`
	Expires time.Time `json:"expires"`
}

// GetModels returns the cached model names for an endpoint.
// Returns false if not found or expired.
func GetModels(baseURL string) ([]string, bool) {
	e, _, ok := getEntry(baseURL)
	if !ok {
		return nil, false
	}
	return e.Models, true
}

// ModelsAge returns cache age and ttl when a valid entry exists.
func ModelsAge(baseURL string) (time.Duration, time.Duration, bool) {
	e, path, ok := getEntry(baseURL)
	if !ok {
		return 0, 0, false
	}

	created := e.Created
	if created.IsZero() {
		if st, err := os.Stat(path); err == nil {
			created = st.ModTime()
		}
	}
	if created.IsZero() {
		created = e.Expires
	}

	ttl := e.Expires.Sub(created)
	if ttl < 0 {
		ttl = 0
	}

	age := time.Since(created)
	if age < 0 {
		age = 0
	}

	return age, ttl, true
}

// PutModels stores an endpoint's model listing.
func PutModels(baseURL string, models []string, ttl time.Duration) error {
	dir := cacheDir()
	if err := paths.EnsureDir(dir); err != nil {
		return err
	}

	now := time.Now()
	e := entry{
		BaseURL: normalizeURL(baseURL),
		Models:  models,
		Created: now,
		Expires: now.Add(ttl),
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return os.WriteFile(entryPath(baseURL), data, 0600)
}

// Invalidate drops the listing for baseURL, if any.
func Invalidate(baseURL string) error {
	err := os.Remove(entryPath(baseURL))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func getEntry(baseURL string) (entry, string, bool) {
	path := entryPath(baseURL)
	data, err := os.ReadFile(path)
	if err != nil {
		return entry{}, path, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		_ = os.Remove(path)
		return entry{}, path, false
	}

	if time.Now().After(e.Expires) {
		_ = os.Remove(path)
		return entry{}, path, false
	}

	return e, path, true
}

func normalizeURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

func entryPath(baseURL string) string {
	h := sha256.New()
	fmt.Fprintf(h, "models\x00%s", normalizeURL(baseURL))
	key := hex.EncodeToString(h.Sum(nil))[:32]
	return filepath.Join(cacheDir(), key+".json")
}

func cacheDir() string {
	return filepath.Join(paths.CacheDir(), "models")
}
