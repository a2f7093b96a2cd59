// Package store persists registered OAuth2 clients and their tokens.
//
// Each client lives in its own YAML file, <dir>/<name>.yaml:
//
//	client:
//	  provider: Github
//	  authorize_url: https://github.com/login/oauth/authorize
//	  token_url: https://github.com/login/oauth/access_token
//	  client_id: 129eff26
//	  secret: 00163e60d80f
//	  scope: repo
//	tokens:
//	  access_token: ...
//	  expires_at: 2024-03-01T12:15:00Z
//	  refresh_token: ...
//
// The tokens section is absent until the first authorization completes.
// Files are written with mode 0600 inside a 0700 directory since they hold
// the client secret and tokens in clear text.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andreweacott/bearer/pkg/oauth"
	"gopkg.in/yaml.v3"
)

const fileExt = ".yaml"

var (
	// ErrClientNotFound is returned when no file exists for the client
	ErrClientNotFound = errors.New("client not registered")

	// ErrClientExists is returned when registering a name that is already taken
	ErrClientExists = errors.New("client already registered")
)

// ClientConfig is the client section of a client file
type ClientConfig struct {
	Provider     string `yaml:"provider"`
	AuthorizeURL string `yaml:"authorize_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	Secret       string `yaml:"secret"`
	Scope        string `yaml:"scope,omitempty"`
}

// Tokens is the tokens section of a client file
type Tokens struct {
	AccessToken  string    `yaml:"access_token"`
	ExpiresAt    time.Time `yaml:"expires_at"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
}

// Record is one registered client as stored on disk
type Record struct {
	Name   string       `yaml:"-"`
	Client ClientConfig `yaml:"client"`
	Tokens *Tokens      `yaml:"tokens,omitempty"`
}

// Credentials returns the client section as oauth credentials
func (r *Record) Credentials() oauth.Credentials {
	return oauth.Credentials{
		Provider:     r.Client.Provider,
		AuthorizeURL: r.Client.AuthorizeURL,
		TokenURL:     r.Client.TokenURL,
		ClientID:     r.Client.ClientID,
		Secret:       r.Client.Secret,
		Scope:        r.Client.Scope,
	}
}

// TokenSet returns the stored tokens, or nil when the client has none yet
func (r *Record) TokenSet() *oauth.TokenSet {
	if r.Tokens == nil || r.Tokens.AccessToken == "" {
		return nil
	}
	return &oauth.TokenSet{
		AccessToken:  r.Tokens.AccessToken,
		ExpiresAt:    r.Tokens.ExpiresAt.UTC(),
		RefreshToken: r.Tokens.RefreshToken,
	}
}

// SetTokens replaces the stored tokens as a whole. Expiry is kept with
// second precision in UTC.
func (r *Record) SetTokens(ts oauth.TokenSet) {
	r.Tokens = &Tokens{
		AccessToken:  ts.AccessToken,
		ExpiresAt:    ts.ExpiresAt.UTC().Truncate(time.Second),
		RefreshToken: ts.RefreshToken,
	}
}

// Expired reports whether the stored access token is expired at now. known
// is false when the client has no tokens.
func (r *Record) Expired(now time.Time) (expired, known bool) {
	ts := r.TokenSet()
	if ts == nil {
		return false, false
	}
	return ts.Expired(now), true
}

// Store reads and writes client files in a single directory
type Store struct {
	mu  sync.RWMutex
	dir string
}

// New opens the store rooted at dir, expanding a leading ~ and creating the
// directory when it does not exist
func New(dir string) (*Store, error) {
	expanded, err := ExpandHome(dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(expanded)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(expanded, 0o700); err != nil {
			return nil, fmt.Errorf("could not create directory %s: %w", expanded, err)
		}
	case err != nil:
		return nil, fmt.Errorf("could not stat %s: %w", expanded, err)
	case !info.IsDir():
		return nil, fmt.Errorf("path %s is not a directory", expanded)
	}

	return &Store{dir: expanded}, nil
}

// ExpandHome replaces a leading ~ with the current user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Dir returns the expanded store directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for a client name
func (s *Store) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+fileExt), nil
}

// Exists reports whether a client file exists
func (s *Store) Exists(name string) (bool, error) {
	path, err := s.Path(name)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// Load reads a client file
func (s *Store) Load(name string) (*Record, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrClientNotFound, name)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse client file %s: %w", path, err)
	}
	rec.Name = name
	return &rec, nil
}

// Create returns a new record for name. Nothing is written until Save.
func (s *Store) Create(name string, creds oauth.Credentials) (*Record, error) {
	exists, err := s.Exists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrClientExists, name)
	}

	return &Record{
		Name: name,
		Client: ClientConfig{
			Provider:     creds.Provider,
			AuthorizeURL: creds.AuthorizeURL,
			TokenURL:     creds.TokenURL,
			ClientID:     creds.ClientID,
			Secret:       creds.Secret,
			Scope:        creds.Scope,
		},
	}, nil
}

// Save writes the record, replacing the previous file atomically
func (s *Store) Save(rec *Record) error {
	path, err := s.Path(rec.Name)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal client %s to YAML: %w", rec.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+rec.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", s.dir, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set permissions on %s: %w", tmp.Name(), err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write file %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}

// List returns the names of all registered clients, sorted
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	names := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a client file
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrClientNotFound, name)
		}
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("client name cannot be empty")
	case strings.ContainsAny(name, `/\`), strings.HasPrefix(name, "."):
		return fmt.Errorf("invalid client name %q", name)
	}
	return nil
}
