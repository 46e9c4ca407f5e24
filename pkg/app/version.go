package app

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// 构建信息，通过 -ldflags "-X github.com/lk2023060901/xdooria-realtime/pkg/app.Version=v1.0.0" 注入
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
	AppName   = "xdooria-realtime"
)

// Info 构建信息
type Info struct {
	AppName   string `json:"appName"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo 返回构建信息，未注入提交号时回落到 go build 记录的 vcs 信息
func GetInfo() Info {
	info := Info{
		AppName:   AppName,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.GitCommit == "":
				info.GitCommit = s.Value
			case s.Key == "vcs.time" && info.BuildDate == "":
				info.BuildDate = s.Value
			}
		}
	}
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
		i.AppName, i.Version, orUnknown(i.GitCommit), orUnknown(i.BuildDate), i.GoVersion, i.Platform)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
