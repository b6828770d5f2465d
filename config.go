package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/erc7824/nitrolite/rpccore/pkg/log"
)

const (
	configDirPathEnv     = "RPCCORE_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
	endpointsFileName    = "endpoints.yaml"
)

// EndpointKind selects the transport used for an endpoint.
type EndpointKind string

const (
	EndpointWebsocket EndpointKind = "websocket"
	EndpointHTTP      EndpointKind = "http"
)

// EndpointConfig describes one Electrum server.
type EndpointConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	URL      string        `yaml:"url" validate:"required,url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Kind derives the transport from the URL scheme.
func (e EndpointConfig) Kind() (EndpointKind, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
		return EndpointWebsocket, nil
	case "http", "https":
		return EndpointHTTP, nil
	default:
		return "", fmt.Errorf("endpoint %s: unsupported scheme %q", e.Name, u.Scheme)
	}
}

type endpointsFile struct {
	Endpoints []EndpointConfig `yaml:"endpoints" validate:"dive"`
}

// Config is the runtime configuration of the binary.
type Config struct {
	Log log.Config

	// Endpoint is either a URL or the name of an entry in endpoints.yaml.
	Endpoint     string        `env:"RPCCORE_ENDPOINT" validate:"required"`
	Network      string        `env:"RPCCORE_NETWORK" env-default:"mainnet" validate:"oneof=mainnet bitcoin testnet testnet3 regtest signet"`
	CallTimeout  time.Duration `env:"RPCCORE_CALL_TIMEOUT" env-default:"30s" validate:"gt=0"`
	PingInterval time.Duration `env:"RPCCORE_PING_INTERVAL" env-default:"60s" validate:"gte=0"`

	BridgeSocket   string `env:"RPCCORE_BRIDGE_SOCKET" env-default:"rpccore.sock"`
	BridgePrefix   string `env:"RPCCORE_BRIDGE_PREFIX" env-default:"rpccore:"`
	BridgeCapacity int    `env:"RPCCORE_BRIDGE_CAPACITY" env-default:"500" validate:"gt=0"`

	MetricsAddr string `env:"RPCCORE_METRICS_ADDR" env-default:":4242"`

	ProbeAddress string `env:"PROBE_ADDRESS"`

	Endpoints []EndpointConfig `validate:"dive"`
}

// LoadConfig reads <dir>/.env, the environment and the optional <dir>/endpoints.yaml.
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	dotEnvPath := filepath.Join(configDirPath, ".env")
	if err := godotenv.Load(dotEnvPath); err != nil {
		logger.Debug(".env file not loaded", "path", dotEnvPath, "error", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	endpoints, err := loadEndpoints(configDirPath)
	if err != nil {
		return nil, err
	}
	cfg.Endpoints = endpoints

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("configuration loaded", "network", cfg.Network, "endpoints", len(cfg.Endpoints))
	return &cfg, nil
}

func loadEndpoints(configDirPath string) ([]EndpointConfig, error) {
	path := filepath.Join(configDirPath, endpointsFileName)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var file endpointsFile
	if err := yaml.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return file.Endpoints, nil
}

// SelectEndpoint resolves Endpoint against the configured endpoints. A value that is
// not a known name is used as a URL.
func (c *Config) SelectEndpoint() (EndpointConfig, error) {
	for _, e := range c.Endpoints {
		if e.Name == c.Endpoint {
			return e, nil
		}
	}

	ep := EndpointConfig{Name: "default", URL: c.Endpoint}
	if err := validator.New().Var(ep.URL, "url"); err != nil {
		return EndpointConfig{}, fmt.Errorf("endpoint %q is neither a configured name nor a URL", c.Endpoint)
	}
	return ep, nil
}
