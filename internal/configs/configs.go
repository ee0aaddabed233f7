/*
Package configs is responsible for loading and parsing the application's configuration settings.

Settings are read from operating system environment variables, optionally seeded from a
.env file: the running environment, the session/control and admin listen addresses, registry
and relay limits, rate limits, CORS allowed origins and the optional transfer archive.
*/
package configs

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	LogLevel    string

	// ListenAddr is shared by the TCP session channel and the UDP control channel.
	ListenAddr string

	// AdminAddr serves the admin HTTP API; empty disables it.
	AdminAddr string

	// Relay Settings
	MaxUsers         int
	ChunkSize        int
	UnknownTagPolicy string

	// Rate Limits (events per second and burst, per source IP; rate 0 disables)
	ControlRate  float64
	ControlBurst int
	AcceptRate   float64
	AcceptBurst  int

	// Security Settings
	AllowedOrigins []string

	// S3 Archive Settings (archival is off when S3BucketName is empty)
	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Prefix          string
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// ArchiveEnabled reports whether relayed files are archived.
func (c *AppConfig) ArchiveEnabled() bool {
	return c.S3BucketName != ""
}

// LoadConfig reads a .env file when present, then parses the environment.
func LoadConfig() (*AppConfig, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	return FromEnv()
}

// FromEnv parses the configuration from environment variables.
// It provides default values for each configuration item and performs type conversions and validation.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	// --- General Server Settings ---
	cfg.Environment = getEnv("ENVIRONMENT", "development")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")

	cfg.ListenAddr = getEnv("LISTEN_ADDR", "127.0.0.1:9898")
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return nil, fmt.Errorf("invalid LISTEN_ADDR %q: %w", cfg.ListenAddr, err)
	}

	adminAddr, ok := os.LookupEnv("ADMIN_ADDR")
	if !ok {
		adminAddr = "127.0.0.1:8080"
	}
	cfg.AdminAddr = strings.TrimSpace(adminAddr)

	// --- Relay Settings ---
	if cfg.MaxUsers, err = getInt("MAX_USERS", 100); err != nil {
		return nil, err
	}
	if cfg.MaxUsers < 1 {
		return nil, fmt.Errorf("MAX_USERS must be at least 1, got %d", cfg.MaxUsers)
	}

	if cfg.ChunkSize, err = getInt("CHUNK_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("CHUNK_SIZE must be at least 1, got %d", cfg.ChunkSize)
	}

	cfg.UnknownTagPolicy = getEnv("UNKNOWN_TAG_POLICY", "logout")
	if cfg.UnknownTagPolicy != "logout" && cfg.UnknownTagPolicy != "ignore" {
		return nil, fmt.Errorf("UNKNOWN_TAG_POLICY must be \"logout\" or \"ignore\", got %q", cfg.UnknownTagPolicy)
	}

	// --- Rate Limits ---
	if cfg.ControlRate, err = getFloat("CONTROL_RATE", 20); err != nil {
		return nil, err
	}
	if cfg.ControlBurst, err = getInt("CONTROL_BURST", 40); err != nil {
		return nil, err
	}
	if cfg.AcceptRate, err = getFloat("ACCEPT_RATE", 5); err != nil {
		return nil, err
	}
	if cfg.AcceptBurst, err = getInt("ACCEPT_BURST", 10); err != nil {
		return nil, err
	}

	// --- Security Settings ---
	cfg.AllowedOrigins = []string{}
	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	// --- S3 Archive Settings ---
	cfg.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3Region = os.Getenv("S3_REGION")
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	cfg.S3Prefix = getEnv("S3_PREFIX", "transfers")

	if cfg.ArchiveEnabled() {
		if cfg.S3AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID environment variable is required when S3_BUCKET_NAME is set")
		}
		if cfg.S3SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY environment variable is required when S3_BUCKET_NAME is set")
		}
	}

	return cfg, nil
}

// ApplyArgs overrides the listen address with the optional positional arguments
// "ip port" (either may be given alone as the first argument when it parses as such).
func (c *AppConfig) ApplyArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}

	host, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid LISTEN_ADDR %q: %w", c.ListenAddr, err)
	}

	switch len(args) {
	case 1:
		if _, err := strconv.Atoi(args[0]); err == nil {
			port = args[0]
		} else {
			host = args[0]
		}
	case 2:
		host, port = args[0], args[1]
	default:
		return fmt.Errorf("expected at most 2 arguments (ip port), got %d", len(args))
	}

	if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("invalid ip argument %q", host)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid port argument %q", port)
	}

	c.ListenAddr = net.JoinHostPort(host, port)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return f, nil
}
