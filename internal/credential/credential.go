// Package credential loads and normalizes the service-account credential
// blob used to authenticate against the remote compute project.
package credential

import (
	"encoding/json"
	"encoding/pem"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMissing indicates no credential was configured. Remote-backed features
// must surface this once and disable themselves rather than retry.
var ErrMissing = eris.New("credential: not configured")

// ServiceAccount is the parsed credential blob.
type ServiceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// Load reads and parses a service-account JSON file. An empty path returns
// ErrMissing so callers can distinguish "unconfigured" from "broken".
func Load(path string) (*ServiceAccount, error) {
	if path == "" {
		return nil, ErrMissing
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "credential: read %s", path)
	}
	return Parse(data)
}

// Parse parses a service-account JSON blob, repairing the private key's
// newlines. Credential blobs pasted through env vars or secret managers
// commonly arrive with the key's newlines as literal "\n" two-character
// sequences; PEM decoding needs real newlines.
func Parse(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, eris.Wrap(err, "credential: parse json")
	}

	if sa.ClientEmail == "" {
		return nil, eris.New("credential: missing client_email")
	}
	if sa.PrivateKey == "" {
		return nil, eris.New("credential: missing private_key")
	}

	sa.PrivateKey = normalizeKey(sa.PrivateKey)

	block, _ := pem.Decode([]byte(sa.PrivateKey))
	if block == nil {
		return nil, eris.New("credential: private_key is not valid PEM")
	}

	return &sa, nil
}

// normalizeKey converts literal "\n" escapes to newlines and ensures the
// PEM body ends with one.
func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, `\n`, "\n")
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	return key
}
