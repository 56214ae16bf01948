package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorKind 对接口错误进行分类。
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindRateLimit
	KindQuota
	KindInvalidCredential
)

// APIError 表示聊天接口返回的非 200 响应。
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

type apiErrorBody struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Type = parsed.Error.Type
		// code 可能是字符串也可能是数字
		var code string
		if err := json.Unmarshal(parsed.Error.Code, &code); err == nil {
			apiErr.Code = code
		} else if len(parsed.Error.Code) > 0 && string(parsed.Error.Code) != "null" {
			apiErr.Code = string(parsed.Error.Code)
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
	}
	return apiErr
}

// Kind 根据状态码和错误码对错误分类。
func (e *APIError) Kind() ErrorKind {
	switch {
	case e.Code == "insufficient_quota" || e.Type == "insufficient_quota":
		return KindQuota
	case e.StatusCode == http.StatusTooManyRequests:
		return KindRateLimit
	case e.StatusCode == http.StatusUnauthorized || e.Code == "invalid_api_key":
		return KindInvalidCredential
	default:
		return KindGeneric
	}
}

// Error 的文本包含分类关键字（"rate limit"、"quota"、"invalid_api_key"），供上层按文本分类。
func (e *APIError) Error() string {
	switch e.Kind() {
	case KindRateLimit:
		return fmt.Sprintf("rate limit exceeded: %s", e.Message)
	case KindQuota:
		return fmt.Sprintf("quota exceeded: %s", e.Message)
	case KindInvalidCredential:
		return fmt.Sprintf("invalid_api_key: %s", e.Message)
	default:
		return fmt.Sprintf("chat api returned status %d: %s", e.StatusCode, e.Message)
	}
}

// KindOf 返回 err 链中 APIError 的分类；不是 APIError 时返回 KindGeneric。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindGeneric
}
