package repository

import (
	"errors"
	"fmt"
)

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrConditionFailed 表示条件写 (create-if-absent / CAS) 的前置条件不成立
	ErrConditionFailed = errors.New("repository: conditional check failed")
	// ErrTransient 表示可重试的存储故障 (限流、超时、连接断开、死锁等)
	ErrTransient = errors.New("repository: transient store failure")
	// ErrUnknownTable 表示使用了未注册 schema 的表
	ErrUnknownTable = errors.New("repository: unknown table")
	// ErrMissingKey 表示 item 缺少主键属性
	ErrMissingKey = errors.New("repository: item is missing key attribute")
)

// Transient 把底层错误标记为可重试，同时保留原始错误链。
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient 报告错误是否可重试。
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
