package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AgentConfig 单个Agent的配置
type AgentConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Enabled bool   `toml:"enabled"`
	Mode    string `toml:"mode"`   // "simulated" 或 "live"
	Prompt  string `toml:"prompt"` // 个性化交易风格prompt
	Paused  bool   `toml:"paused"` // 启动时即处于暂停状态

	// 决策源配置
	Provider        string `toml:"provider"` // "deepseek" / "qwen" / "custom"
	DeepSeekKey     string `toml:"deepseek_key,omitempty"`
	QwenKey         string `toml:"qwen_key,omitempty"`
	CustomAPIURL    string `toml:"custom_api_url,omitempty"`
	CustomAPIKey    string `toml:"custom_api_key,omitempty"`
	CustomModelName string `toml:"custom_model_name,omitempty"`

	// 模拟盘初始金额；实盘模式下仅作为首次同步失败时的兜底展示值
	InitialBalance float64 `toml:"initial_balance"`

	// Aster实盘配置（mode="live"时必填）
	AsterUser       string `toml:"aster_user,omitempty"`
	AsterSigner     string `toml:"aster_signer,omitempty"`
	AsterPrivateKey string `toml:"aster_private_key,omitempty"`
}

// LeverageConfig 杠杆上限配置
type LeverageConfig struct {
	BTCETHLeverage  int `toml:"btc_eth_leverage"`
	AltcoinLeverage int `toml:"altcoin_leverage"`
}

// APIServerConfig API服务器配置
type APIServerConfig struct {
	AllowedOrigins  []string `toml:"allowed_origins"`
	EnableRateLimit bool     `toml:"enable_rate_limit"`
	RateLimitRPS    int      `toml:"rate_limit_rps"`
}

// Config 引擎总配置
type Config struct {
	APIServerPort int `toml:"api_server_port"`

	RefreshIntervalSeconds int `toml:"refresh_interval_seconds"` // 刷新周期
	TurnIntervalMinutes    int `toml:"turn_interval_minutes"`    // 决策周期

	MinPositionSizeUSD float64 `toml:"min_position_size_usd"` // 最小仓位（保证金）
	FeeRate            float64 `toml:"fee_rate"`              // 模拟盘手续费率
	CooldownMinutes    int     `toml:"cooldown_minutes"`      // 平仓后冷却时长

	Symbols  []string       `toml:"symbols"` // 关注币种池
	Leverage LeverageConfig `toml:"leverage"`

	DataDir string `toml:"data_dir"` // sqlite数据目录

	APIServerConfig APIServerConfig `toml:"api_server_config"`

	Agents []AgentConfig `toml:"agents"`
}

// RefreshInterval 刷新周期时长
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// TurnInterval 决策周期时长
func (c *Config) TurnInterval() time.Duration {
	return time.Duration(c.TurnIntervalMinutes) * time.Minute
}

// CooldownWindow 冷却时长
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// ActiveAgents 启用的Agent列表
func (c *Config) ActiveAgents() []AgentConfig {
	active := make([]AgentConfig, 0, len(c.Agents))
	for _, a := range c.Agents {
		if a.Enabled {
			active = append(active, a)
		}
	}
	return active
}

// LoadConfig 从TOML文件加载配置并填充默认值
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析TOML配置文件失败: %w", err)
	}

	// 默认值
	if cfg.APIServerPort == 0 {
		cfg.APIServerPort = 8080
	}
	if cfg.RefreshIntervalSeconds <= 0 {
		cfg.RefreshIntervalSeconds = 10
	}
	if cfg.TurnIntervalMinutes <= 0 {
		cfg.TurnIntervalMinutes = 3
	}
	if cfg.MinPositionSizeUSD <= 0 {
		cfg.MinPositionSizeUSD = 50
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = 0.0005
	}
	if cfg.CooldownMinutes <= 0 {
		cfg.CooldownMinutes = 30
	}
	if cfg.Leverage.BTCETHLeverage <= 0 {
		cfg.Leverage.BTCETHLeverage = 20
	}
	if cfg.Leverage.AltcoinLeverage <= 0 {
		cfg.Leverage.AltcoinLeverage = 10
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.APIServerConfig.RateLimitRPS <= 0 {
		cfg.APIServerConfig.RateLimitRPS = 100
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{
			"BTCUSDT",
			"ETHUSDT",
			"SOLUSDT",
			"BNBUSDT",
			"XRPUSDT",
			"DOGEUSDT",
			"ADAUSDT",
		}
	}

	// Agent配置校验
	seen := make(map[string]bool)
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.ID == "" {
			return nil, fmt.Errorf("agents[%d]: id不能为空", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("agent ID '%s' 重复", a.ID)
		}
		seen[a.ID] = true
		if a.Name == "" {
			a.Name = a.ID
		}
		if a.Mode == "" {
			a.Mode = "simulated"
		}
		if a.Mode != "simulated" && a.Mode != "live" {
			return nil, fmt.Errorf("agent '%s': 未知交易模式 '%s'", a.ID, a.Mode)
		}
		if a.Provider == "" {
			a.Provider = "deepseek"
		}
		if a.InitialBalance <= 0 {
			return nil, fmt.Errorf("agent '%s': 初始金额必须大于0", a.ID)
		}
		if a.Mode == "live" && (a.AsterUser == "" || a.AsterSigner == "" || a.AsterPrivateKey == "") {
			return nil, fmt.Errorf("agent '%s': 实盘模式必须配置aster_user/aster_signer/aster_private_key", a.ID)
		}
	}

	return &cfg, nil
}
