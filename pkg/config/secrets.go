package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration with separate secrets file support.
// Precedence: flags > ENV > secrets file > config file > defaults
//
// Example:
//
//	config.yaml:
//	  store:
//	    backend: redis
//
//	secrets.yaml:
//	  redis:
//	    url: redis://:password@cache:6379/0
//
// The secrets file is optional and discovered from <ENV_PREFIX>_SECRETS_FILE or as
// secrets.{ext} next to the config file. The second return value holds only the
// settings that came from the secrets file, for use with Redacted.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	return l.load(true)
}

func (l *ViperLoader) mergeSecrets(v *viper.Viper) (*Config, error) {
	secretsFile, err := l.discoverSecretsFile()
	if err != nil || secretsFile == "" {
		return nil, err
	}

	secretsViper := viper.New()
	secretsViper.SetConfigFile(secretsFile)
	if err := secretsViper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
	}
	var secrets Config
	if err := secretsViper.Unmarshal(&secrets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", secretsFile, err)
	}
	if err := v.MergeConfigMap(secretsViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge secrets: %w", err)
	}
	return &secrets, nil
}

// discoverSecretsFile finds the secrets file using these rules:
// 1. Check <ENV_PREFIX>_SECRETS_FILE (default TABULAR_SECRETS_FILE)
// 2. If configFile is set, look for secrets.{ext} in same directory
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if rawSecretsFile, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(rawSecretsFile)
		if secretsFile == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(secretsFile)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, secretsFile, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, secretsFile)
		}
		return secretsFile, nil
	}

	if l.configFile != "" {
		dir := filepath.Dir(l.configFile)
		ext := filepath.Ext(l.configFile)
		secretsFile := filepath.Join(dir, "secrets"+ext)
		if info, err := os.Stat(secretsFile); err == nil && !info.IsDir() {
			return secretsFile, nil
		}
	}

	return "", nil
}
