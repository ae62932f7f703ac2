// Package download 实现媒体资源的下载编排：优先级队列、并发上限、
// 按目标熔断、有界重试与周期健康检查。
package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
)

// Sentinel errors.
var (
	// ErrCircuitOpen 目标处于熔断打开态，请求被直接拒绝，未发起网络尝试。
	ErrCircuitOpen = errors.New("download: circuit open")

	// ErrRetriesExhausted 重试预算耗尽，资源在本次运行中永久未解析。
	ErrRetriesExhausted = errors.New("download: retries exhausted")
)

// FailClass 失败分类。
type FailClass int

const (
	// ClassRetriable 瞬态失败（超时、连接重置、5xx 等），消耗重试预算。
	ClassRetriable FailClass = iota
	// ClassFatal 确定性失败（404、引用损坏、本地文件系统错误），不重试。
	ClassFatal
	// ClassCircuitOpen 熔断拒绝，不计入重试预算。
	ClassCircuitOpen
)

// String implements fmt.Stringer.
func (c FailClass) String() string {
	switch c {
	case ClassRetriable:
		return "retriable"
	case ClassFatal:
		return "fatal"
	case ClassCircuitOpen:
		return "circuit-open"
	default:
		return "unknown"
	}
}

// retryableError 显式标注可否重试的错误包装，供宿主取数原语使用。
type retryableError struct {
	err       error
	retryable bool
}

func (e *retryableError) Error() string {
	if e.retryable {
		return fmt.Sprintf("retriable: %v", e.err)
	}
	return fmt.Sprintf("non-retriable: %v", e.err)
}

func (e *retryableError) Unwrap() error   { return e.err }
func (e *retryableError) Retryable() bool { return e.retryable }

// Retriable 标记瞬态错误。
func Retriable(err error) error {
	return &retryableError{err: err, retryable: true}
}

// NonRetriable 标记确定性错误。
func NonRetriable(err error) error {
	return &retryableError{err: err, retryable: false}
}

// Classify 把一次取数失败归入分类桶。
// 显式标注优先；其余按错误形态判断：熔断拒绝独立成类，
// 网络超时/连接级错误视为瞬态，本地文件系统与权限错误视为确定性失败。
func Classify(err error) FailClass {
	if err == nil {
		return ClassRetriable
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ClassCircuitOpen
	}

	var marked interface{ Retryable() bool }
	if errors.As(err, &marked) {
		if marked.Retryable() {
			return ClassRetriable
		}
		return ClassFatal
	}

	// 本地盘/权限问题重试不会变好
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return ClassFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetriable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetriable
	}

	// 未知错误按瞬态处理，交给预算兜底
	return ClassRetriable
}
