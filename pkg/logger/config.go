package logger

// Level 日志等级
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	PanicLevel Level = "panic"
	FatalLevel Level = "fatal"
)

// Format 输出格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

// RotationType 文件轮换方式
type RotationType string

const (
	RotationBySize RotationType = "size"
	RotationByTime RotationType = "time"
)

// Config 日志配置
type Config struct {
	Level  Level  `mapstructure:"level"`
	Format Format `mapstructure:"format"`

	EnableConsole bool `mapstructure:"enable_console"`
	EnableFile    bool `mapstructure:"enable_file"`
	// OutputPath 文件输出路径，EnableFile 时必填
	OutputPath string `mapstructure:"output_path"`

	TimeFormat string         `mapstructure:"time_format"`
	Rotation   RotationConfig `mapstructure:"rotation"`

	EnableStacktrace bool  `mapstructure:"enable_stacktrace"`
	StacktraceLevel  Level `mapstructure:"stacktrace_level"`

	// 高频日志采样：每秒前 SamplingInitial 条全部输出，之后每 SamplingThereafter 条输出 1 条
	EnableSampling     bool `mapstructure:"enable_sampling"`
	SamplingInitial    int  `mapstructure:"sampling_initial"`
	SamplingThereafter int  `mapstructure:"sampling_thereafter"`

	// Development 彩色等级与 DPanic 行为
	Development bool `mapstructure:"development"`

	// GlobalFields 附加到每条日志，例如 process_id
	GlobalFields map[string]any `mapstructure:"global_fields"`

	// RedactKeys 命中的字段值以 ***REDACTED*** 输出，大小写不敏感
	RedactKeys []string `mapstructure:"redact_keys"`
}

// RotationConfig 文件轮换配置
type RotationConfig struct {
	Type RotationType `mapstructure:"type"`

	// 按大小轮换，单位 MB 与天
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`

	// 按时间轮换，时长字符串如 24h
	RotationTime    string `mapstructure:"rotation_time"`
	MaxAgeTime      string `mapstructure:"max_age_time"`
	RotationPattern string `mapstructure:"rotation_pattern"`
}

// DefaultConfig 仅输出到控制台，凭证类字段默认脱敏
func DefaultConfig() *Config {
	return &Config{
		Level:         InfoLevel,
		Format:        ConsoleFormat,
		EnableConsole: true,
		TimeFormat:    "2006-01-02 15:04:05.000",
		Rotation: RotationConfig{
			Type:         RotationBySize,
			MaxSize:      100,
			MaxBackups:   5,
			MaxAge:       7,
			Compress:     true,
			RotationTime: "24h",
			MaxAgeTime:   "168h",
		},
		EnableStacktrace:   true,
		StacktraceLevel:    ErrorLevel,
		SamplingInitial:    100,
		SamplingThereafter: 100,
		GlobalFields:       make(map[string]any),
		RedactKeys:         []string{"credential", "token", "authorization", "password"},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch {
	case c.EnableFile && c.OutputPath == "":
		return ErrInvalidOutputPath
	case !c.EnableConsole && !c.EnableFile:
		return ErrNoOutputEnabled
	}
	return nil
}
