package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del keeper.
type Config struct {
	Keeper  KeeperConfig  `yaml:"keeper"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Venue   VenueConfig   `yaml:"venue"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// KeeperConfig controla los tiempos y límites del engine de ejecución.
type KeeperConfig struct {
	MaxRetries            int `yaml:"max_retries"`
	RetryDelayMs          int `yaml:"retry_delay_ms"`
	PollIntervalMs        int `yaml:"poll_interval_ms"`
	StepPollIntervalMs    int `yaml:"step_poll_interval_ms"` // default: 2x poll_interval_ms
	DispatchIntervalMs    int `yaml:"dispatch_interval_ms"`
	BatchSize             int `yaml:"batch_size"`
	ConfirmationTimeoutMs int `yaml:"confirmation_timeout_ms"`
	EventPageSize         int `yaml:"event_page_size"`
}

// LedgerConfig contiene los endpoints del nodo y el paquete DCA on-chain.
type LedgerConfig struct {
	RPCURL    string `yaml:"rpc_url"`
	WSURL     string `yaml:"ws_url"`
	PackageID string `yaml:"package_id"`
	DCAModule string `yaml:"dca_module"`
	KeeperKey string `yaml:"-"` // solo por env: KEEPER_PRIVATE_KEY
	GasBudget uint64 `yaml:"gas_budget"`
}

// Pair describe un pool del venue conocido de antemano.
type Pair struct {
	Name          string `yaml:"name"`
	PoolID        string `yaml:"pool_id"`
	Base          string `yaml:"base"`
	BaseDecimals  int    `yaml:"base_decimals"`
	Quote         string `yaml:"quote"`
	QuoteDecimals int    `yaml:"quote_decimals"`
}

// VenueConfig contiene el endpoint del venue y el registro estático de pares.
type VenueConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	StableCoin string `yaml:"stable_coin"` // ancla USD para calcular yields
	Pairs      []Pair `yaml:"pairs"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// APIConfig controla la API de consulta y el endpoint de métricas.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval devuelve el intervalo del poll de planes como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Keeper.PollIntervalMs) * time.Millisecond
}

// StepPollInterval devuelve el intervalo del poll de confirmaciones.
func (c *Config) StepPollInterval() time.Duration {
	return time.Duration(c.Keeper.StepPollIntervalMs) * time.Millisecond
}

// DispatchInterval devuelve el intervalo del loop de ejecución.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.Keeper.DispatchIntervalMs) * time.Millisecond
}

// RetryDelay devuelve el delay entre reintentos de un plan.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Keeper.RetryDelayMs) * time.Millisecond
}

// ConfirmationTimeout devuelve el timeout de espera de finalidad.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.Keeper.ConfirmationTimeoutMs) * time.Millisecond
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LEDGER_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("LEDGER_WS_URL"); v != "" {
		cfg.Ledger.WSURL = v
	}
	if v := os.Getenv("PACKAGE_ID"); v != "" {
		cfg.Ledger.PackageID = v
	}
	// La clave del keeper SOLO se acepta por entorno, nunca en el YAML.
	cfg.Ledger.KeeperKey = os.Getenv("KEEPER_PRIVATE_KEY")
	if v := os.Getenv("USDC_ADDRESS"); v != "" {
		cfg.Venue.StableCoin = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
		cfg.API.Enabled = true
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Keeper.MaxRetries = n
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Keeper.MaxRetries <= 0 {
		cfg.Keeper.MaxRetries = 3
	}
	if cfg.Keeper.RetryDelayMs <= 0 {
		cfg.Keeper.RetryDelayMs = 5000
	}
	if cfg.Keeper.PollIntervalMs <= 0 {
		cfg.Keeper.PollIntervalMs = 10000
	}
	if cfg.Keeper.StepPollIntervalMs <= 0 {
		cfg.Keeper.StepPollIntervalMs = 2 * cfg.Keeper.PollIntervalMs
	}
	if cfg.Keeper.DispatchIntervalMs <= 0 {
		cfg.Keeper.DispatchIntervalMs = 5000
	}
	if cfg.Keeper.BatchSize <= 0 {
		cfg.Keeper.BatchSize = 5
	}
	if cfg.Keeper.ConfirmationTimeoutMs <= 0 {
		cfg.Keeper.ConfirmationTimeoutMs = 60000
	}
	if cfg.Keeper.EventPageSize <= 0 {
		cfg.Keeper.EventPageSize = 50
	}
	if cfg.Ledger.RPCURL == "" {
		cfg.Ledger.RPCURL = "https://fullnode.testnet.sui.io:443"
	}
	if cfg.Ledger.WSURL == "" {
		cfg.Ledger.WSURL = "wss://fullnode.testnet.sui.io:443"
	}
	if cfg.Ledger.DCAModule == "" {
		cfg.Ledger.DCAModule = "dca_plan"
	}
	if cfg.Ledger.GasBudget == 0 {
		cfg.Ledger.GasBudget = 100_000_000 // 0.1 SUI
	}
	if cfg.Venue.RPCURL == "" {
		cfg.Venue.RPCURL = cfg.Ledger.RPCURL
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "keeper.db"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":3000"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
