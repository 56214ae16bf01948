// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
	"strings"

	"toad-architect-go/internal/repository"
	"toad-architect-go/pkg/llm"
)

var (
	// ErrSessionNotFound 表示引用的会话不存在。
	ErrSessionNotFound = repository.ErrSessionNotFound
	// ErrSessionBusy 表示同一会话正在处理另一条消息，等待超时。
	ErrSessionBusy = errors.New("session is busy processing another message")
	// ErrSearchDisabled 表示未启用消息检索。
	ErrSearchDisabled = errors.New("message search is not enabled")
)

// ThrottledError 表示模型服务返回了限流或额度不足。用户消息已经持久化。
type ThrottledError struct {
	Message string
	Err     error
}

func (e *ThrottledError) Error() string { return e.Message }
func (e *ThrottledError) Unwrap() error { return e.Err }

// ProviderError 表示模型服务的其他失败。用户消息已经持久化，没有追加助手消息。
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return "completion provider failed: " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// UserMessage 返回可以展示给客户端的说明文字。
func (e *ProviderError) UserMessage() string {
	if llm.KindOf(e.Err) == llm.KindInvalidCredential || strings.Contains(e.Err.Error(), "invalid_api_key") {
		return "Invalid API key. Please check your configuration."
	}
	return "Failed to generate AI response. Please try again."
}

// StoreError 表示持久化层在某一步失败，不会回滚已经写入的部分。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s failed: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// classifyProviderError 按错误文本区分限流与其他失败（区分大小写）。
func classifyProviderError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota") {
		return &ThrottledError{Message: msg, Err: err}
	}
	return &ProviderError{Err: err}
}

// storeErr 保留 NotFound 语义，其余错误包装为 StoreError。
func storeErr(op string, err error) error {
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	return &StoreError{Op: op, Err: err}
}
