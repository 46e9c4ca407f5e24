package store

import "github.com/cockroachdb/errors"

var (
	// ErrUnknownDriver 不支持的存储驱动
	ErrUnknownDriver = errors.New("store: unknown driver")

	// ErrMissingDependency 驱动所需的客户端未提供
	ErrMissingDependency = errors.New("store: missing client for driver")
)
