package conc

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
)

// Pool 基于 ants 的有界 goroutine 池
type Pool[T any] struct {
	inner *ants.Pool
}

// PoolOption 池选项
type PoolOption func(*[]ants.Option)

// WithNonblocking 池满时立即返回错误而不是等待
func WithNonblocking(nonblocking bool) PoolOption {
	return func(opts *[]ants.Option) {
		*opts = append(*opts, ants.WithNonblocking(nonblocking))
	}
}

// NewPool 创建容量为 size 的池
func NewPool[T any](size int, opts ...PoolOption) *Pool[T] {
	antsOpts := make([]ants.Option, 0, len(opts))
	for _, opt := range opts {
		opt(&antsOpts)
	}
	p, err := ants.NewPool(size, antsOpts...)
	if err != nil {
		// 仅在 size 非法时发生
		p, _ = ants.NewPool(runtime.GOMAXPROCS(0), antsOpts...)
	}
	return &Pool[T]{inner: p}
}

// NewDefaultPool 创建与 CPU 数量匹配的池
func NewDefaultPool[T any]() *Pool[T] {
	return NewPool[T](runtime.GOMAXPROCS(0))
}

// Submit 提交任务
func (p *Pool[T]) Submit(fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	if err := p.inner.Submit(func() { run(f, fn) }); err != nil {
		var zero T
		f.complete(zero, errors.Wrap(err, "conc: submit task"))
	}
	return f
}

// Running 正在运行的 worker 数
func (p *Pool[T]) Running() int {
	return p.inner.Running()
}

// Cap 池容量
func (p *Pool[T]) Cap() int {
	return p.inner.Cap()
}

// Release 释放池
func (p *Pool[T]) Release() {
	p.inner.Release()
}
