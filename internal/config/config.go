/**
 * @description
 * This package handles the configuration management for the badge-service.
 * It uses the Viper library to read configuration from environment
 * variables, providing a centralized and straightforward way to manage
 * application settings, including the per-gateway credentials the adapters
 * are injected with. Secrets are never hard-coded.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// GatewayCredentials holds one provider's endpoint and secret material.
type GatewayCredentials struct {
	BaseURL       string
	MerchantID    string
	Secret        string
	WebhookSecret string
}

// Config holds all the configuration variables for the badge-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort      string `mapstructure:"SERVER_PORT"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	RedisLockPrefix string `mapstructure:"REDIS_LOCK_PREFIX"`
	RabbitMQURL     string `mapstructure:"RABBITMQ_URL"`
	JWTSecret       string `mapstructure:"JWT_SECRET"`
	InternalAPIKey  string `mapstructure:"INTERNAL_API_KEY"`
	XPLedgerURL     string `mapstructure:"XP_LEDGER_URL"`
	XPLedgerAPIKey  string `mapstructure:"XP_LEDGER_API_KEY"`

	// Populated from the per-gateway env prefixes after Unmarshal.
	Bkash  GatewayCredentials `mapstructure:"-"`
	Nagad  GatewayCredentials `mapstructure:"-"`
	Upay   GatewayCredentials `mapstructure:"-"`
	Rocket GatewayCredentials `mapstructure:"-"`
	Card   GatewayCredentials `mapstructure:"-"`
}

// gatewayEnvPrefixes maps each gateway to its environment variable prefix.
var gatewayEnvPrefixes = []string{"BKASH", "NAGAD", "UPAY", "ROCKET", "CARD"}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to bind environment variables into the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_LOCK_PREFIX", "animaze:user_lock")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("XP_LEDGER_URL")
	_ = viper.BindEnv("XP_LEDGER_API_KEY")
	for _, prefix := range gatewayEnvPrefixes {
		_ = viper.BindEnv(prefix + "_BASE_URL")
		_ = viper.BindEnv(prefix + "_MERCHANT_ID")
		_ = viper.BindEnv(prefix + "_SECRET")
		_ = viper.BindEnv(prefix + "_WEBHOOK_SECRET")
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.Bkash = gatewayCredentialsFromEnv("BKASH")
	config.Nagad = gatewayCredentialsFromEnv("NAGAD")
	config.Upay = gatewayCredentialsFromEnv("UPAY")
	config.Rocket = gatewayCredentialsFromEnv("ROCKET")
	config.Card = gatewayCredentialsFromEnv("CARD")

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	if strings.TrimSpace(config.RedisLockPrefix) == "" {
		config.RedisLockPrefix = "animaze:user_lock"
	}

	return
}

func gatewayCredentialsFromEnv(prefix string) GatewayCredentials {
	return GatewayCredentials{
		BaseURL:       strings.TrimSpace(viper.GetString(prefix + "_BASE_URL")),
		MerchantID:    strings.TrimSpace(viper.GetString(prefix + "_MERCHANT_ID")),
		Secret:        strings.TrimSpace(viper.GetString(prefix + "_SECRET")),
		WebhookSecret: strings.TrimSpace(viper.GetString(prefix + "_WEBHOOK_SECRET")),
	}
}
