package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DefaultCredentialStore builds the credential chain ocidist consults for
// every request, consulted in order until one yields a non-empty
// credential:
//
//  1. OCIDIST_REGISTRY_USERNAME / OCIDIST_REGISTRY_PASSWORD, so a CI job
//     can authenticate against a single registry without a Docker login.
//  2. The Docker credential store (~/.docker/config.json and any
//     configured credential helper).
//  3. ocidist's own credentials.json, for hosts the user has no Docker
//     login for at all.
//
// Any store in the chain is additionally retried against the historical
// Docker Hub host aliases when the lookup is for one of them.
func DefaultCredentialStore() (credentials.Store, error) {
	dockerStore, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		return nil, fmt.Errorf("create docker credential store: %w", err)
	}

	chain := chainStore{envCredentialStore{}, dockerStore}
	if fileStore, err := newConfigFileStore(); err == nil {
		chain = append(chain, fileStore)
	}

	return &dockerHubAliasStore{inner: chain}, nil
}

// StaticCredentials returns a credential store with a single static
// credential for the specified registry host; every other host gets an
// empty credential.
func StaticCredentials(registry, username, password string) credentials.Store {
	return &staticStore{
		registry: registry,
		cred:     auth.Credential{Username: username, Password: password},
	}
}

type staticStore struct {
	registry string
	cred     auth.Credential
}

func (s *staticStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	if serverAddress == s.registry {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

func (s *staticStore) Put(_ context.Context, _ string, _ auth.Credential) error {
	return errors.New("static credential store is read-only")
}

func (s *staticStore) Delete(_ context.Context, _ string) error {
	return errors.New("static credential store is read-only")
}

// envCredentialStore answers every host the same way, from a single pair
// of environment variables. It is the first link in DefaultCredentialStore's
// chain since an operator setting them clearly means to override whatever a
// Docker config or ocidist credentials file might otherwise say.
type envCredentialStore struct{}

func (envCredentialStore) Get(_ context.Context, _ string) (auth.Credential, error) {
	user, pass := os.Getenv("OCIDIST_REGISTRY_USERNAME"), os.Getenv("OCIDIST_REGISTRY_PASSWORD")
	if user == "" && pass == "" {
		return auth.EmptyCredential, nil
	}
	return auth.Credential{Username: user, Password: pass}, nil
}

func (envCredentialStore) Put(context.Context, string, auth.Credential) error {
	return errors.New("environment credential store is read-only")
}

func (envCredentialStore) Delete(context.Context, string) error {
	return errors.New("environment credential store is read-only")
}

// chainStore consults its members in order, returning the first non-empty
// credential found; a failed lookup in one member doesn't short-circuit the
// rest, since a misconfigured credential helper shouldn't block a host that
// a later member does know about.
type chainStore []credentials.Store

func (c chainStore) Get(ctx context.Context, serverAddress string) (auth.Credential, error) {
	var lastErr error
	for _, store := range c {
		cred, err := store.Get(ctx, serverAddress)
		if err != nil {
			lastErr = err
			continue
		}
		if !isEmptyCredential(cred) {
			return cred, nil
		}
	}
	return auth.EmptyCredential, lastErr
}

func (c chainStore) Put(ctx context.Context, serverAddress string, cred auth.Credential) error {
	for _, store := range c {
		if err := store.Put(ctx, serverAddress, cred); err == nil {
			return nil
		}
	}
	return errors.New("no writable credential store in chain")
}

func (c chainStore) Delete(ctx context.Context, serverAddress string) error {
	var err error
	for _, store := range c {
		if e := store.Delete(ctx, serverAddress); e != nil {
			err = e
		}
	}
	return err
}

// configFileStore is a flat host -> credential map stored as JSON under
// ocidist's own config directory (XDG_CONFIG_HOME/ocidist/credentials.json,
// or ~/.config/ocidist/credentials.json). It exists for registries a user
// authenticates to only through ocidist, with no Docker login at all.
type configFileStore struct {
	path  string
	creds map[string]auth.Credential
}

func configDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "ocidist"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ocidist"), nil
}

func newConfigFileStore() (*configFileStore, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return newConfigFileStoreAt(filepath.Join(dir, "credentials.json"))
}

func newConfigFileStoreAt(path string) (*configFileStore, error) {
	store := &configFileStore{path: path, creds: make(map[string]auth.Credential)}
	//nolint:gosec // G304: path is derived from the XDG config dir, never user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var raw credentialsFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for host, c := range raw {
		store.creds[host] = auth.Credential{Username: c.Username, Password: c.Password}
	}
	return store, nil
}

// credentialsFile is credentials.json's on-disk shape: only the two fields
// ocidist actually persists, not oras-go's full Credential (which also
// carries bearer tokens that don't belong in a long-lived file).
type credentialsFile map[string]struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *configFileStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	if cred, ok := s.creds[serverAddress]; ok {
		return cred, nil
	}
	return auth.EmptyCredential, nil
}

func (s *configFileStore) Put(_ context.Context, serverAddress string, cred auth.Credential) error {
	s.creds[serverAddress] = cred

	raw := make(credentialsFile, len(s.creds))
	for host, c := range s.creds {
		raw[host] = struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}{Username: c.Username, Password: c.Password}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *configFileStore) Delete(_ context.Context, serverAddress string) error {
	delete(s.creds, serverAddress)
	return s.Put(context.Background(), serverAddress, auth.EmptyCredential)
}

// dockerHubAliasStore retries a miss for any of the three historical Docker
// Hub hostnames against every other entry of dockerHubHostAliases (the other
// hostnames plus the legacy https://index.docker.io/v1/ key) before giving
// up, since a credential
// saved under one alias (e.g. by `docker login`) is otherwise invisible to
// a lookup that happens to use another.
type dockerHubAliasStore struct {
	inner credentials.Store
}

func (s *dockerHubAliasStore) Get(ctx context.Context, serverAddress string) (auth.Credential, error) {
	cred, err := s.inner.Get(ctx, serverAddress)
	if err == nil && !isEmptyCredential(cred) {
		return cred, nil
	}
	for _, alias := range dockerHubAliases(serverAddress) {
		if alias == serverAddress {
			continue
		}
		if aliasCred, aliasErr := s.inner.Get(ctx, alias); aliasErr == nil && !isEmptyCredential(aliasCred) {
			return aliasCred, nil
		}
	}
	return cred, err
}

func (s *dockerHubAliasStore) Put(ctx context.Context, serverAddress string, cred auth.Credential) error {
	return s.inner.Put(ctx, serverAddress, cred)
}

func (s *dockerHubAliasStore) Delete(ctx context.Context, serverAddress string) error {
	return s.inner.Delete(ctx, serverAddress)
}

var dockerHubHostAliases = []string{
	"https://index.docker.io/v1/",
	"index.docker.io",
	"registry-1.docker.io",
	"docker.io",
}

func dockerHubAliases(serverAddress string) []string {
	if !isDockerHubHost(normalizeServerAddress(serverAddress)) {
		return nil
	}
	return dockerHubHostAliases
}

func isDockerHubHost(host string) bool {
	switch host {
	case "docker.io", "registry-1.docker.io", "index.docker.io":
		return true
	default:
		return false
	}
}

func normalizeServerAddress(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr, _, _ = strings.Cut(addr, "/")
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func isEmptyCredential(cred auth.Credential) bool {
	return cred == auth.EmptyCredential ||
		(cred.Username == "" && cred.Password == "" && cred.AccessToken == "" && cred.RefreshToken == "")
}
