// config/config.go
package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Configuration stores all the configurations
type Configuration struct {
	Server        ServerConfiguration
	Redis         RedisConfiguration
	Elasticsearch ElasticsearchConfiguration
	Access        AccessConfiguration
	Audit         AuditConfiguration
	Cache         CacheConfiguration
	Resilience    ResilienceConfiguration
}

// ServerConfiguration stores the port and other web server settings
type ServerConfiguration struct {
	Port string
}

// RedisConfiguration stores data for Redis connection
type RedisConfiguration struct {
	Addr          string
	EncryptionKey string
}

// ElasticsearchConfiguration stores data for Elasticsearch connection
type ElasticsearchConfiguration struct {
	URL string
}

// AccessConfiguration stores grant issuance settings
type AccessConfiguration struct {
	MediaBaseURL       string
	RateLimitThreshold int
	RateLimitWindow    time.Duration
}

// AuditConfiguration stores audit log settings
type AuditConfiguration struct {
	RetentionDays int
}

// CacheConfiguration stores TTL cache settings
type CacheConfiguration struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	StaleGrace    time.Duration
}

// ResilienceConfiguration stores circuit breaker settings
type ResilienceConfiguration struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

var config *Configuration

func InitConfig() error {
	viper.AddConfigPath("config") // path to look for the config file in
	viper.SetConfigName("config") // name of the config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name

	viper.AutomaticEnv() // read in environment variables that match

	// Set default configurations
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.rateLimitRequests", 100)
	viper.SetDefault("server.rateLimitWindow", "1m")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.encryptionKey", "")
	viper.SetDefault("elasticsearch.url", "")
	viper.SetDefault("log.dir", "logging")

	viper.SetDefault("auth.sessionSecret", "")
	viper.SetDefault("auth.tokenSecret", "")
	viper.SetDefault("auth.auditSecret", "")
	viper.SetDefault("auth.locatorSecret", "")

	viper.SetDefault("access.mediaBaseURL", "https://media.framelane.io")
	viper.SetDefault("access.locatorValidity", "12h")
	viper.SetDefault("access.rateLimitThreshold", 20)
	viper.SetDefault("access.rateLimitWindow", "60s")

	viper.SetDefault("audit.retentionDays", 365)

	viper.SetDefault("cache.defaultTTL", "180s")
	viper.SetDefault("cache.sweepInterval", "60s")
	viper.SetDefault("cache.staleGrace", "24h")

	viper.SetDefault("resilience.failureThreshold", 5)
	viper.SetDefault("resilience.recoveryTimeout", "30s")

	viper.SetDefault("subscription.baseURL", "http://localhost:8081")
	viper.SetDefault("subscription.timeout", "5s")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found. Using default settings and environment variables.")
		} else {
			return err
		}
	}

	// Unmarshal the configuration into the Configuration struct
	err := viper.Unmarshal(&config)
	if err != nil {
		return err
	}

	return nil
}

// GetConfig returns the loaded configuration
func GetConfig() *Configuration {
	return config
}

// GetString retrieves a string value from the configuration
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt retrieves an integer value from the configuration
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool retrieves a boolean value from the configuration
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration retrieves a duration value from the configuration
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
