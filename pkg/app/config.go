package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix XDOORIA_BUS_QUEUE_CAPACITY 对应 bus.queue_capacity
const EnvPrefix = "XDOORIA"

// Paths 最终生效的配置文件与日志路径
type Paths struct {
	Config string
	Log    string
}

// 命令行参数到配置键的映射，显式传入时覆盖文件与环境变量
var flagKeys = map[string]string{
	"log.path":   "log.output_path",
	"process-id": "process_id",
}

// LoadConfig 解析进程命令行并加载配置
func LoadConfig(target any, opts ...config.Option) (config.Manager, error) {
	mgr, _, err := Load(pflag.CommandLine, os.Args[1:], target, opts...)
	return mgr, err
}

// Load 优先级：显式命令行参数 > 环境变量 > 配置文件 > target 中的预置值
//
// 配置文件路径依次取 --config、XDOORIA_CONFIG、可执行文件目录下的 config.yaml。
func Load(fs *pflag.FlagSet, args []string, target any, opts ...config.Option) (config.Manager, Paths, error) {
	execDir, err := GetExecDir()
	if err != nil {
		return nil, Paths{}, fmt.Errorf("resolve executable directory: %w", err)
	}
	defaults := Paths{
		Config: filepath.Join(execDir, "config.yaml"),
		Log:    filepath.Join(execDir, "logs", "realtime.log"),
	}

	if fs.Lookup("config") == nil {
		fs.StringP("config", "c", defaults.Config, "path to config file")
		fs.String("log.path", defaults.Log, "output path for logs")
		fs.String("process-id", "", "identity of this process in the cluster")
	}
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return nil, Paths{}, err
		}
	}

	paths := Paths{Config: flagString(fs, "config")}
	if !fs.Changed("config") {
		if env := os.Getenv(EnvPrefix + "_CONFIG"); env != "" {
			paths.Config = env
		}
	}
	if _, err := os.Stat(paths.Config); err != nil {
		return nil, paths, fmt.Errorf("config file %s: %w", paths.Config, err)
	}

	v := viper.New()
	v.SetDefault("log.output_path", defaults.Log)
	mgr := config.NewManager(append([]config.Option{config.WithViper(v)}, opts...)...)
	mgr.BindEnv(EnvPrefix)
	if err := mgr.LoadFile(paths.Config); err != nil {
		return nil, paths, err
	}
	for flag, key := range flagKeys {
		if fs.Changed(flag) {
			mgr.Set(key, flagString(fs, flag))
		}
	}

	if err := mgr.Unmarshal(target); err != nil {
		return nil, paths, err
	}

	paths.Log = mgr.GetString("log.output_path")
	if dir := filepath.Dir(paths.Log); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	return mgr, paths, nil
}

func flagString(fs *pflag.FlagSet, name string) string {
	s, _ := fs.GetString(name)
	return s
}

// GetExecDir 可执行文件所在目录，解析符号链接失败时退回原路径
func GetExecDir() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	return filepath.Dir(execPath), nil
}
