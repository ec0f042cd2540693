package errors

import (
	"errors"
	"fmt"
)

// 错误码。5xx 为通用错误，6xx 为 Arrow 链路相关错误。
const (
	CodeInternal = 500

	// 单条控制消息结构非法，丢弃该消息，不断开连接
	CodeMalformedMessage = 600
	// 控制消息类型与期望的视图不符
	CodeTypeMismatch = 601
	// 构造阶段参数非法（MAC、host:port 等）
	CodeInvalidArgument = 602
	// 控制链路心跳超时
	CodeLinkStale = 610
	// 控制连接 socket 级错误
	CodeTransport = 611
	// 本地服务连接错误，仅影响单个会话
	CodeLocalService = 612
	// 对端 ACK/注册返回的错误码
	CodeProtocol = 613
)

// CodeError 是带错误码的错误，Err 保存底层原因。
type CodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *CodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
}

func (e *CodeError) Unwrap() error { return e.Err }

// New 构造一个仅包含错误码与消息的 CodeError。
func New(code int, msg string) *CodeError { return &CodeError{Code: code, Message: msg} }

// Newf 与 New 相同，消息按 fmt.Sprintf 格式化。
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 将底层错误包装为带错误码的 CodeError。err 可为 nil。
func Wrap(code int, msg string, err error) *CodeError {
	return &CodeError{Code: code, Message: msg, Err: err}
}

// Code 返回 err 链上最外层 CodeError 的错误码。
// err 为 nil 时返回 0；链上没有 CodeError 时返回 CodeInternal。
func Code(err error) int {
	if err == nil {
		return 0
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// Is 判断 err 链上是否存在指定错误码的 CodeError。
func Is(err error, code int) bool {
	for err != nil {
		var ce *CodeError
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Err
	}
	return false
}
