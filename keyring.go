package strata

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyring holds decoded key material per cipher algorithm, loaded from a
// YAML document:
//
//	keys:
//	  aes-gcm: base64:MzItYnl0ZS1rZXktZm9yLWFlcy0yNTYtZW5jcnlwdCE=
//	  xchacha20: hex:9f86d081884c7d659a2feaa0c55ad015...
//
// Values carry a base64: or hex: prefix; an unprefixed value is taken as
// raw bytes.
type Keyring struct {
	keys map[CipherAlgo][]byte
}

// keyringDoc is the YAML wire form.
type keyringDoc struct {
	Keys map[string]string `yaml:"keys"`
}

// LoadKeyring reads and parses a keyring from r.
func LoadKeyring(r io.Reader) (*Keyring, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseKeyring(data)
}

// LoadKeyringFile reads and parses a keyring from a YAML file.
func LoadKeyringFile(path string) (*Keyring, error) {
	f, err := os.Open(path) // #nosec G304 -- path is operator-supplied configuration
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadKeyring(f)
}

// ParseKeyring parses a YAML keyring document.
func ParseKeyring(data []byte) (*Keyring, error) {
	var doc keyringDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}

	kr := &Keyring{keys: make(map[CipherAlgo][]byte, len(doc.Keys))}
	for name, val := range doc.Keys {
		algo := CipherAlgo(name)
		if !IsValidCipherAlgo(algo) {
			return nil, newConfigError(ErrUnknownAlgorithm, name, "")
		}
		key, err := decodeKeyValue(val)
		if err != nil {
			return nil, fmt.Errorf("keyring %s: %w", name, err)
		}
		kr.keys[algo] = key
	}
	return kr, nil
}

// Key returns the key material for an algorithm.
func (kr *Keyring) Key(algo CipherAlgo) ([]byte, bool) {
	key, ok := kr.keys[algo]
	return key, ok
}

// WithKeyring registers every key in the keyring with the model.
func WithKeyring(kr *Keyring) Option {
	return func(c *modelConfig) {
		for algo, key := range kr.keys {
			c.keys[algo] = key
		}
	}
}

// decodeKeyValue decodes a prefixed key value.
func decodeKeyValue(val string) ([]byte, error) {
	switch {
	case strings.HasPrefix(val, "base64:"):
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(val, "base64:"))
	case strings.HasPrefix(val, "hex:"):
		return hex.DecodeString(strings.TrimPrefix(val, "hex:"))
	default:
		return []byte(val), nil
	}
}
