package kafka

import "time"

// Config Kafka 生产者配置
type Config struct {
	// Brokers Kafka broker 地址列表
	Brokers []string `mapstructure:"brokers"`

	// Topic 写入的主题
	Topic string `mapstructure:"topic"`

	// Producer 生产者配置
	Producer ProducerConfig `mapstructure:"producer"`

	// SASL 认证配置（可选）
	SASL *SASLConfig `mapstructure:"sasl"`

	// TLS 配置（可选）
	TLS *TLSConfig `mapstructure:"tls"`
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	// Async 异步发送，WriteMessages 不等待 broker 确认
	Async bool `mapstructure:"async"`

	// BatchSize 批量大小
	BatchSize int `mapstructure:"batch_size"`

	// BatchTimeout 批量最长等待时间
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`

	// MaxRetries 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`

	// RequiredAcks 0: 不等待, 1: Leader, -1: 全部副本
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression 压缩算法: none, gzip, snappy, lz4, zstd
	Compression string `mapstructure:"compression"`

	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

// SASLConfig SASL 认证配置
type SASLConfig struct {
	// Mechanism 认证机制: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig TLS 配置
type TLSConfig struct {
	Enable             bool   `mapstructure:"enable"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Brokers: []string{"localhost:9092"},
		Producer: ProducerConfig{
			BatchSize:    100,
			BatchTimeout: time.Second,
			MaxRetries:   3,
			RequiredAcks: 1,
			Compression:  "snappy",
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  10 * time.Second,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}
	if c.Topic == "" {
		return ErrEmptyTopic
	}
	return nil
}
