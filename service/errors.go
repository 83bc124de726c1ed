package service

import (
	"errors"
	"fmt"
	"strings"
)

// 错误分类
var (
	// ErrMissingParameter 调用方参数缺失，在任何状态变更之前拒绝
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrProjectNotFound 请求的项目不存在
	ErrProjectNotFound = errors.New("project not found")

	// ErrProviderUnavailable provider 凭证或配置缺失，有降级路径时触发降级
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected provider 返回非成功 HTTP 状态；轮询时可重试，提交时致命
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrProviderGenerationFailed provider 明确报告生成失败
	ErrProviderGenerationFailed = errors.New("provider generation failed")

	// ErrProviderTimeout 轮询次数耗尽
	ErrProviderTimeout = errors.New("provider timed out")

	// ErrStorageFailure 产物持久化失败
	ErrStorageFailure = errors.New("storage failure")
)

// ProviderError 携带 provider 上下文的错误
type ProviderError struct {
	// Op 失败的操作，如 "submit" / "poll"
	Op string

	Provider string

	// StatusCode provider 返回的 HTTP 状态码（如果有）
	StatusCode int

	// Detail provider 原始错误文本，用于排查
	Detail string

	Err error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Provider, e.Op, e.Err)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func missingParameter(names ...string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(names, ", "))
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageFailure, op, err)
}
