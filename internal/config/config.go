// Package config 负责加载 TOML 配置并补齐默认值。
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config 是整个服务的配置根节点。
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	Database  DatabaseConfig  `toml:"database"`
	Freqtrade FreqtradeConfig `toml:"freqtrade"`
	Verify    VerifyConfig    `toml:"verify"`
	Worker    WorkerConfig    `toml:"worker"`
}

type ServerConfig struct {
	Addr string `toml:"addr"` // HTTP 监听地址，默认 :9980
}

type LoggingConfig struct {
	Level string `toml:"level"` // debug | info | warn | error
}

type DatabaseConfig struct {
	Path string `toml:"path"` // SQLite 文件路径，默认 ftpilot.db
}

// FreqtradeConfig 描述 freqtrade 容器的调用方式与数据目录布局。
type FreqtradeConfig struct {
	ComposeFile string `toml:"compose_file"` // docker-compose.yml 路径
	Service     string `toml:"service"`      // compose 服务名，默认 freqtrade
	UserdataDir string `toml:"userdata_dir"` // 宿主机 user_data 根目录
	DataDir     string `toml:"data_dir"`     // 容器内数据目录，默认 /freqtrade/common_data
	Exchange    string `toml:"exchange"`     // 默认 binance
	TradingMode string `toml:"trading_mode"` // spot | futures，默认 futures
	DataFormat  string `toml:"data_format"`  // feather | parquet | json，默认 feather
}

type VerifyConfig struct {
	MinGapSize int `toml:"min_gap_size"` // 小于该缺口的 K 线缺失不上报，默认 2
}

type WorkerConfig struct {
	Concurrency int `toml:"concurrency"` // 同时执行的回测任务数，默认 2
}

// Load 读取 path 处的 TOML 配置；文件不存在时返回全默认配置。
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			setDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	setDefaults(cfg)
	return cfg, nil
}

// LogsDir 返回容器日志产物目录（user_data/logs）。
func (c *FreqtradeConfig) LogsDir() string {
	return c.UserdataDir + "/user_data/logs"
}

// StrategiesDir 返回用户策略文件目录。
func (c *FreqtradeConfig) StrategiesDir() string {
	return c.UserdataDir + "/user_data/strategies"
}

// ResultsDir 返回回测结果导出目录（宿主机侧）。
func (c *FreqtradeConfig) ResultsDir() string {
	return c.UserdataDir + "/user_data/backtest_results"
}

// CommonDataDir 返回已下载行情数据的宿主机根目录。
func (c *FreqtradeConfig) CommonDataDir() string {
	return c.UserdataDir + "/common_data"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":9980"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "ftpilot.db"
	}
	if cfg.Freqtrade.ComposeFile == "" {
		cfg.Freqtrade.ComposeFile = "ft_userdata/docker-compose.yml"
	}
	if cfg.Freqtrade.Service == "" {
		cfg.Freqtrade.Service = "freqtrade"
	}
	if cfg.Freqtrade.UserdataDir == "" {
		cfg.Freqtrade.UserdataDir = "ft_userdata"
	}
	if cfg.Freqtrade.DataDir == "" {
		cfg.Freqtrade.DataDir = "/freqtrade/common_data"
	}
	if cfg.Freqtrade.Exchange == "" {
		cfg.Freqtrade.Exchange = "binance"
	}
	if cfg.Freqtrade.TradingMode == "" {
		cfg.Freqtrade.TradingMode = "futures"
	}
	if cfg.Freqtrade.DataFormat == "" {
		cfg.Freqtrade.DataFormat = "feather"
	}
	if cfg.Verify.MinGapSize <= 0 {
		cfg.Verify.MinGapSize = 2
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 2
	}
}
