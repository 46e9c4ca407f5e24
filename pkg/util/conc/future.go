package conc

import "github.com/cockroachdb/errors"

// Future 异步任务的结果占位
type Future[T any] struct {
	ch    chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan struct{})}
}

// Inner 返回任务结束信号
func (f *Future[T]) Inner() <-chan struct{} {
	return f.ch
}

// Done 任务是否已结束
func (f *Future[T]) Done() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Await 阻塞直到任务结束
func (f *Future[T]) Await() (T, error) {
	<-f.ch
	return f.value, f.err
}

// Value 阻塞获取结果值
func (f *Future[T]) Value() T {
	<-f.ch
	return f.value
}

// Err 阻塞获取错误
func (f *Future[T]) Err() error {
	<-f.ch
	return f.err
}

func (f *Future[T]) complete(value T, err error) {
	f.value = value
	f.err = err
	close(f.ch)
}

// Go 在独立 goroutine 中执行 fn，panic 会被转换为错误
func Go[T any](fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go run(f, fn)
	return f
}

// AwaitAll 等待所有任务结束，返回第一个错误
func AwaitAll[T any](futures ...*Future[T]) error {
	var first error
	for _, f := range futures {
		if err := f.Err(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func run[T any](f *Future[T], fn func() (T, error)) {
	var (
		value T
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("conc: task panicked: %v", r)
		}
		f.complete(value, err)
	}()
	value, err = fn()
}
