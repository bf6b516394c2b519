package config

import (
	"fmt"
	"os"

	"sol-pay-gateway/internal/pkg/logger"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// SolanaConfig 链上 RPC 配置
type SolanaConfig struct {
	RpcEndpoint         string `yaml:"rpc_endpoint"`          // 主 RPC 地址
	PriorityFeeEndpoint string `yaml:"priority_fee_endpoint"` // 支持 getPriorityFeeEstimate 的 RPC，为空时复用 RpcEndpoint
	PriorityLevel       string `yaml:"priority_level"`        // Min / Low / Medium / High / VeryHigh
}

// AggregatorConfig 兑换聚合器（Jupiter 兼容接口）配置
type AggregatorConfig struct {
	Endpoint       string   `yaml:"endpoint"`         // 例如 https://quote-api.jup.ag/v6
	SlippageBps    int      `yaml:"slippage_bps"`     // 允许滑点（基点）
	VenueAllowList []string `yaml:"venue_allow_list"` // 限定路由使用的 DEX
	MaxAttempts    int      `yaml:"max_attempts"`     // 可重试状态码下的最大尝试次数
	TimeoutMs      int      `yaml:"timeout_ms"`       // 单次 HTTP 请求超时
}

// PaymentConfig 结算相关的部署常量
type PaymentConfig struct {
	SettlementMint     string `yaml:"settlement_mint"`      // 结算 token mint（默认 USDC）
	SettlementDecimals uint8  `yaml:"settlement_decimals"`  // 结算 token 精度
	UnitPriceUSD       string `yaml:"unit_price_usd"`       // 单个计费单位的价格（十进制字符串）
	MerchantWallet     string `yaml:"merchant_wallet"`      // 收款钱包（ATA 的 owner）
	ReferenceKey       string `yaml:"reference_key"`        // 附加在转账指令上的检索标签
	DefaultPriorityFee uint64 `yaml:"default_priority_fee"` // µlamports/CU，优先费估算失败时使用
}

// LedgerConfig 支付记录存储配置
type LedgerConfig struct {
	SQLitePath       string `yaml:"sqlite_path"`        // ":memory:" 或文件路径
	RedisAddr        string `yaml:"redis_addr"`         // 为空时不写进度标记
	ProgressTTLHours int    `yaml:"progress_ttl_hours"` // 进度标记保留时长
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置（履约事件）
type KafkaProducerConfig struct {
	Brokers    string `yaml:"brokers"`    // Kafka broker 地址，多个用英文逗号分隔，为空时不投递
	BatchSize  int    `yaml:"batch_size"` // 批处理大小（单位字节）
	LingerMs   int    `yaml:"linger_ms"`  // 批处理最大延迟（毫秒）
	Topic      string `yaml:"topic"`      // 履约事件 topic
	Partitions int    `yaml:"partitions"` // topic 分区数
}

// TimeConfig 表示各种超时配置（单位：毫秒）
type TimeConfig struct {
	SubmitTimeoutMs  int `yaml:"submit_timeout_ms"`  // 广播 + 确认循环的总时限
	VerifyTimeoutMs  int `yaml:"verify_timeout_ms"`  // 查询并校验最终交易的时限，应大于 verify_attempts*verify_poll_ms
	VerifyAttempts   int `yaml:"verify_attempts"`    // 查询 finalized 交易的最大次数
	VerifyPollMs     int `yaml:"verify_poll_ms"`     // 查询间隔
	FulfillTimeoutMs int `yaml:"fulfill_timeout_ms"` // 履约事件投递超时
	ReconcileSec     int `yaml:"reconcile_sec"`      // 未领取履约记录的补偿周期（秒）
}

// HttpConfig 对外 HTTP 入口
type HttpConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TimeoutMs int64  `yaml:"timeout_ms"`
}

// Config 是主配置结构体，进程启动时加载一次并显式传入各组件
type Config struct {
	Name              string              `yaml:"name"`
	LogConf           LogConfig           `yaml:"logger"`
	Solana            SolanaConfig        `yaml:"solana"`
	Aggregator        AggregatorConfig    `yaml:"aggregator"`
	Payment           PaymentConfig       `yaml:"payment"`
	Ledger            LedgerConfig        `yaml:"ledger"`
	KafkaProducerConf KafkaProducerConfig `yaml:"kafka_producer"`
	TimeConf          TimeConfig          `yaml:"time_conf"`
	Http              HttpConfig          `yaml:"http"`
}

// Load 读取并解析 yaml 配置文件
func Load(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

// MustLoad 加载失败直接退出
func MustLoad(path string) Config {
	c, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	return c
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "payd"
	}
	if c.Aggregator.MaxAttempts <= 0 {
		c.Aggregator.MaxAttempts = 4
	}
	if c.Aggregator.TimeoutMs <= 0 {
		c.Aggregator.TimeoutMs = 5000
	}
	if c.Aggregator.SlippageBps <= 0 {
		c.Aggregator.SlippageBps = 50
	}
	if c.Solana.PriorityFeeEndpoint == "" {
		c.Solana.PriorityFeeEndpoint = c.Solana.RpcEndpoint
	}
	if c.Solana.PriorityLevel == "" {
		c.Solana.PriorityLevel = "Medium"
	}
	if c.Ledger.SQLitePath == "" {
		c.Ledger.SQLitePath = ":memory:"
	}
	if c.Ledger.ProgressTTLHours <= 0 {
		c.Ledger.ProgressTTLHours = 7 * 24
	}
	if c.TimeConf.SubmitTimeoutMs <= 0 {
		c.TimeConf.SubmitTimeoutMs = 60_000
	}
	if c.TimeConf.VerifyAttempts <= 0 {
		c.TimeConf.VerifyAttempts = 30
	}
	if c.TimeConf.VerifyPollMs <= 0 {
		c.TimeConf.VerifyPollMs = 1000
	}
	if c.TimeConf.VerifyTimeoutMs <= 0 {
		c.TimeConf.VerifyTimeoutMs = c.TimeConf.VerifyAttempts*c.TimeConf.VerifyPollMs + 15_000
	}
	if c.TimeConf.FulfillTimeoutMs <= 0 {
		c.TimeConf.FulfillTimeoutMs = 5_000
	}
	if c.TimeConf.ReconcileSec <= 0 {
		c.TimeConf.ReconcileSec = 60
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8888
	}
	if c.Http.TimeoutMs <= 0 {
		c.Http.TimeoutMs = 90_000
	}
}
