package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime setting keys read by the plugin. These names are shared with the host
// runtime and are read from the environment verbatim.
const (
	KeyPrivateKey       = "PRIVATE_KEY"
	KeyEthereumRPCURL   = "ETHEREUM_RPC_URL"
	KeyPolygonRPCURL    = "POLYGON_RPC_URL"
	KeyPolygonscanKey   = "POLYGONSCAN_KEY"
	KeyHeimdallRPCURL   = "HEIMDALL_RPC_URL"
	KeyPluginsEnabled   = "POLYGON_PLUGINS_ENABLED"
	KeyWalletSecretSalt = "WALLET_SECRET_SALT"
	KeyTEEMode          = "TEE_MODE"
	KeyNetwork          = "POLYGON_NETWORK"
	KeyGovernorAddress  = "GOVERNOR_ADDRESS"
	KeyOpenAIAPIKey     = "OPENAI_API_KEY"
	KeyOpenAIBaseURL    = "OPENAI_BASE_URL"
	KeyAgentID          = "AGENT_ID"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	NoCache        bool
	Network        string
	LogLevel       string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int

	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	ActionStorePath string
	ActionLockPath  string
	SendLockDir     string

	LogLevel  string
	LogFormat string
	LogFile   string

	Network          string
	PrivateKey       string
	EthereumRPCURL   string
	PolygonRPCURL    string
	PolygonscanKey   string
	HeimdallRPCURL   string
	PluginsEnabled   bool
	WalletSecretSalt string
	TEEMode          string
	AgentID          string
	GovernorAddress  string
	GasOracleURL     string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	SmallModel    string
	LargeModel    string

	// ContractOverrides replaces registry addresses, keyed by chain name and
	// contract name (for example "sepolia" -> "stake_manager").
	ContractOverrides map[string]map[string]string
}

// GetSetting returns the runtime setting stored under key, using the same key
// names as the host runtime. Unknown or empty keys report false.
func (s Settings) GetSetting(key string) (string, bool) {
	var v string
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case KeyPrivateKey:
		v = s.PrivateKey
	case KeyEthereumRPCURL:
		v = s.EthereumRPCURL
	case KeyPolygonRPCURL:
		v = s.PolygonRPCURL
	case KeyPolygonscanKey:
		v = s.PolygonscanKey
	case KeyHeimdallRPCURL:
		v = s.HeimdallRPCURL
	case KeyPluginsEnabled:
		v = strconv.FormatBool(s.PluginsEnabled)
	case KeyWalletSecretSalt:
		v = s.WalletSecretSalt
	case KeyTEEMode:
		v = s.TEEMode
	case KeyNetwork:
		v = s.Network
	case KeyGovernorAddress:
		v = s.GovernorAddress
	case KeyOpenAIAPIKey:
		v = s.OpenAIAPIKey
	case KeyOpenAIBaseURL:
		v = s.OpenAIBaseURL
	case KeyAgentID:
		v = s.AgentID
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Network string `yaml:"network"`
	AgentID string `yaml:"agent_id"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Execution struct {
		ActionsPath     string `yaml:"actions_path"`
		ActionsLockPath string `yaml:"actions_lock_path"`
		SendLockDir     string `yaml:"send_lock_dir"`
	} `yaml:"execution"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
	RPC struct {
		Ethereum string `yaml:"ethereum"`
		Polygon  string `yaml:"polygon"`
		Heimdall string `yaml:"heimdall"`
	} `yaml:"rpc"`
	Plugins struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"plugins"`
	Wallet struct {
		TEEMode       string `yaml:"tee_mode"`
		SecretSaltEnv string `yaml:"secret_salt_env"`
		PrivateKeyEnv string `yaml:"private_key_env"`
	} `yaml:"wallet"`
	Governance struct {
		Governor string `yaml:"governor"`
	} `yaml:"governance"`
	GasOracle struct {
		URL       string `yaml:"url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"gas_oracle"`
	Model struct {
		BaseURL   string `yaml:"base_url"`
		APIKeyEnv string `yaml:"api_key_env"`
		Small     string `yaml:"small"`
		Large     string `yaml:"large"`
	} `yaml:"model"`
	Contracts map[string]map[string]string `yaml:"contracts"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	switch settings.Network {
	case "mainnet", "testnet":
	default:
		return Settings{}, fmt.Errorf("network must be mainnet or testnet, got %q", settings.Network)
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:      "json",
		Timeout:         30 * time.Second,
		Retries:         2,
		CacheEnabled:    true,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		ActionStorePath: filepath.Join(cacheDir, "actions.db"),
		ActionLockPath:  filepath.Join(cacheDir, "actions.lock"),
		SendLockDir:     filepath.Join(cacheDir, "locks"),
		LogLevel:        "warn",
		LogFormat:       "json",
		Network:         "mainnet",
		PluginsEnabled:  true,
		TEEMode:         "off",
		AgentID:         "polygon-agent",
		SmallModel:      "gpt-4o-mini",
		LargeModel:      "gpt-4o",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "polygon-agent", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "polygon-agent")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Network != "" {
		settings.Network = strings.ToLower(cfg.Network)
	}
	if cfg.AgentID != "" {
		settings.AgentID = cfg.AgentID
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Execution.ActionsPath != "" {
		settings.ActionStorePath = cfg.Execution.ActionsPath
	}
	if cfg.Execution.ActionsLockPath != "" {
		settings.ActionLockPath = cfg.Execution.ActionsLockPath
	}
	if cfg.Execution.SendLockDir != "" {
		settings.SendLockDir = cfg.Execution.SendLockDir
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.Log.File != "" {
		settings.LogFile = cfg.Log.File
	}
	if cfg.RPC.Ethereum != "" {
		settings.EthereumRPCURL = cfg.RPC.Ethereum
	}
	if cfg.RPC.Polygon != "" {
		settings.PolygonRPCURL = cfg.RPC.Polygon
	}
	if cfg.RPC.Heimdall != "" {
		settings.HeimdallRPCURL = cfg.RPC.Heimdall
	}
	if cfg.Plugins.Enabled != nil {
		settings.PluginsEnabled = *cfg.Plugins.Enabled
	}
	if cfg.Wallet.TEEMode != "" {
		settings.TEEMode = strings.ToLower(cfg.Wallet.TEEMode)
	}
	if cfg.Wallet.SecretSaltEnv != "" {
		settings.WalletSecretSalt = os.Getenv(cfg.Wallet.SecretSaltEnv)
	}
	if cfg.Wallet.PrivateKeyEnv != "" {
		settings.PrivateKey = os.Getenv(cfg.Wallet.PrivateKeyEnv)
	}
	if cfg.Governance.Governor != "" {
		settings.GovernorAddress = cfg.Governance.Governor
	}
	if cfg.GasOracle.URL != "" {
		settings.GasOracleURL = cfg.GasOracle.URL
	}
	if cfg.GasOracle.APIKey != "" {
		settings.PolygonscanKey = cfg.GasOracle.APIKey
	}
	if cfg.GasOracle.APIKeyEnv != "" {
		settings.PolygonscanKey = os.Getenv(cfg.GasOracle.APIKeyEnv)
	}
	if cfg.Model.BaseURL != "" {
		settings.OpenAIBaseURL = cfg.Model.BaseURL
	}
	if cfg.Model.APIKeyEnv != "" {
		settings.OpenAIAPIKey = os.Getenv(cfg.Model.APIKeyEnv)
	}
	if cfg.Model.Small != "" {
		settings.SmallModel = cfg.Model.Small
	}
	if cfg.Model.Large != "" {
		settings.LargeModel = cfg.Model.Large
	}
	if len(cfg.Contracts) > 0 {
		settings.ContractOverrides = make(map[string]map[string]string, len(cfg.Contracts))
		for chain, contracts := range cfg.Contracts {
			key := strings.ToLower(strings.TrimSpace(chain))
			settings.ContractOverrides[key] = make(map[string]string, len(contracts))
			for name, addr := range contracts {
				settings.ContractOverrides[key][strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(addr)
			}
		}
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("POLYGON_AGENT_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("POLYGON_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("POLYGON_AGENT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("POLYGON_AGENT_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("POLYGON_AGENT_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("POLYGON_AGENT_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("POLYGON_AGENT_ACTIONS_PATH"); v != "" {
		settings.ActionStorePath = v
	}
	if v := os.Getenv("POLYGON_AGENT_ACTIONS_LOCK_PATH"); v != "" {
		settings.ActionLockPath = v
	}
	if v := os.Getenv("POLYGON_AGENT_SEND_LOCK_DIR"); v != "" {
		settings.SendLockDir = v
	}
	if v := os.Getenv("POLYGON_AGENT_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("POLYGON_AGENT_LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := os.Getenv("POLYGON_AGENT_LOG_FILE"); v != "" {
		settings.LogFile = v
	}
	if v := os.Getenv("POLYGON_AGENT_GAS_ORACLE_URL"); v != "" {
		settings.GasOracleURL = v
	}
	if v := os.Getenv("POLYGON_AGENT_SMALL_MODEL"); v != "" {
		settings.SmallModel = v
	}
	if v := os.Getenv("POLYGON_AGENT_LARGE_MODEL"); v != "" {
		settings.LargeModel = v
	}

	if v := os.Getenv(KeyPrivateKey); v != "" {
		settings.PrivateKey = v
	}
	if v := os.Getenv(KeyEthereumRPCURL); v != "" {
		settings.EthereumRPCURL = v
	}
	if v := os.Getenv(KeyPolygonRPCURL); v != "" {
		settings.PolygonRPCURL = v
	}
	if v := os.Getenv(KeyPolygonscanKey); v != "" {
		settings.PolygonscanKey = v
	}
	if v := os.Getenv(KeyHeimdallRPCURL); v != "" {
		settings.HeimdallRPCURL = v
	}
	if v := os.Getenv(KeyPluginsEnabled); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.PluginsEnabled = b
		}
	}
	if v := os.Getenv(KeyWalletSecretSalt); v != "" {
		settings.WalletSecretSalt = v
	}
	if v := os.Getenv(KeyTEEMode); v != "" {
		settings.TEEMode = strings.ToLower(v)
	}
	if v := os.Getenv(KeyNetwork); v != "" {
		settings.Network = strings.ToLower(v)
	}
	if v := os.Getenv(KeyGovernorAddress); v != "" {
		settings.GovernorAddress = v
	}
	if v := os.Getenv(KeyOpenAIAPIKey); v != "" {
		settings.OpenAIAPIKey = v
	}
	if v := os.Getenv(KeyOpenAIBaseURL); v != "" {
		settings.OpenAIBaseURL = v
	}
	if v := os.Getenv(KeyAgentID); v != "" {
		settings.AgentID = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if strings.TrimSpace(flags.Network) != "" {
		settings.Network = strings.ToLower(strings.TrimSpace(flags.Network))
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.TrimSpace(flags.LogLevel)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
