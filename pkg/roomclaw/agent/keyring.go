// Package agent – keyring.go resolves secrets through the OS-native
// keyring (Linux: Secret Service, macOS: Keychain, Windows: Credential
// Manager) and the encrypted vault.
//
// Resolution order for the API key:
//  1. Encrypted vault (.roomclaw.vault, requires master password)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. Environment variable (ROOMCLAW_API_KEY, OPENAI_API_KEY)
//  4. config value (least secure — plaintext on disk)
package agent

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "roomclaw"

	// keyringAPIKey is the key name for the completion-service API key.
	keyringAPIKey = "api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring; empty when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable probes the OS keyring with a write+delete cycle.
func KeyringAvailable() bool {
	testKey := "__roomclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey fills cfg.LLM.APIKey from the most secure available
// source. A locked vault prompts for the master password.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	vault := NewVault(VaultFile)
	if vault.Exists() {
		if !vault.IsUnlocked() {
			password, err := ReadPassword("Vault password: ")
			if err != nil {
				logger.Warn("failed to read vault password", "error", err)
			} else if err := vault.Unlock(password); err != nil {
				logger.Warn("failed to unlock vault", "error", err)
			}
		}
		if vault.IsUnlocked() {
			val, err := vault.Get(keyringAPIKey)
			vault.Lock()
			if err == nil && val != "" {
				cfg.LLM.APIKey = val
				logger.Debug("API key loaded from encrypted vault")
				return
			}
		}
	}

	if val := GetKeyring(keyringAPIKey); val != "" {
		cfg.LLM.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return
	}

	for _, env := range []string{"ROOMCLAW_API_KEY", "OPENAI_API_KEY"} {
		if val := os.Getenv(env); val != "" {
			cfg.LLM.APIKey = val
			logger.Debug("API key loaded from environment", "var", env)
			return
		}
	}

	if cfg.LLM.APIKey != "" {
		logger.Debug("API key loaded from config")
		return
	}
	logger.Warn("no API key found; set one with: roomclaw config set-key")
}

// MigrateKeyToKeyring moves an API key into the OS keyring.
func MigrateKeyToKeyring(apiKey string, logger *slog.Logger) error {
	if err := StoreKeyring(keyringAPIKey, apiKey); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("API key stored in OS keyring",
		"service", keyringService,
		"hint", "you can now remove it from .env and the config file")
	return nil
}
