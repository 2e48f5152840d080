package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		old, existed := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if existed {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t, "EXCHANGE__NAME", "EXCHANGE__API_KEY", "EXCHANGE__API_SECRET", "DB__URL", "TRADING__SYMBOL")

	os.Setenv("EXCHANGE__NAME", "binance")
	os.Setenv("EXCHANGE__API_KEY", "test_api_key_from_env")
	os.Setenv("EXCHANGE__API_SECRET", "test_secret_key_from_env")
	os.Setenv("DB__URL", "./test.db")
	os.Setenv("TRADING__SYMBOL", "ETHUSDT")
	defer func() {
		os.Unsetenv("EXCHANGE__NAME")
		os.Unsetenv("EXCHANGE__API_KEY")
		os.Unsetenv("EXCHANGE__API_SECRET")
		os.Unsetenv("DB__URL")
		os.Unsetenv("TRADING__SYMBOL")
	}()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Secret("test_api_key_from_env"), cfg.Exchange.APIKey)
	assert.Equal(t, Secret("test_secret_key_from_env"), cfg.Exchange.APISecret)
	assert.Equal(t, "ETHUSDT", cfg.Trading.Symbol)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestConfig_String_RedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = Secret("my_super_secret_api_key")
	cfg.Exchange.APISecret = Secret("my_super_secret_secret_key")

	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_super_secret_secret_key")
}
