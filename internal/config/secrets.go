package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SecretsPath is the JSON file holding API keys and tokens, kept out of the
// shareable config file.
func SecretsPath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// fileSecrets reads secrets from SecretsPath.
type fileSecrets struct{}

func (fileSecrets) Get(key string) (string, error) {
	secrets, err := readSecrets(SecretsPath())
	if err != nil {
		return "", err
	}
	v, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not set", key)
	}
	return v, nil
}

func readSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

// SetSecret stores a secret key (see ShowAll for which keys are secret).
// An empty value removes it.
func SetSecret(key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if !s.secret {
		return fmt.Errorf("%q is not a secret; use config set", key)
	}
	return writeSecret(SecretsPath(), key, value)
}

func writeSecret(path, key, value string) error {
	secrets, err := readSecrets(path)
	if err != nil {
		secrets = make(map[string]string)
	}
	if value == "" {
		delete(secrets, key)
	} else {
		secrets[key] = value
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
