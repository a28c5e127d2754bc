package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// 告警核心的错误码分类
const (
	CodeUnknown           = 0
	CodeValidation        = 1001 // 输入不合法，不重试，直接反馈给用户
	CodeAuthRequired      = 1002 // 未登录或会话失效，重新认证前不重试
	CodeLocationUnavail   = 1003 // 定位不可用，由用户动作触发重试
	CodeInvalidCoordinate = 1004 // 坐标越界，属于编程/输入错误
	CodeConnectionFailed  = 2001 // 传输层连接失败，内部自动重试
	CodeSubmissionFailed  = 2002 // 状态提交在重试用尽后仍失败
	CodeNotFound          = 2003 // 目标告警或响应者不存在
	CodeConflict          = 2004 // 与已有终态冲突（如重复响应）
)

// Error represents a custom error with code and stack trace
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"` // 原始错误，不序列化
	Stack   string     `json:"stack,omitempty"`
	Fields  []KeyValue `json:"fields,omitempty"`
}

// KeyValue represents a key-value pair for error context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCode creates a new error with code
func WithCode(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(),
	}
}

// WithCodef creates a new error with code and formatted message
func WithCodef(code int, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

// Wrap wraps an error with message, preserving the inner code
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	code := CodeUnknown
	if e, ok := err.(*Error); ok {
		code = e.Code
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	code := CodeUnknown
	if e, ok := err.(*Error); ok {
		code = e.Code
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Stack:   captureStack(),
	}
}

// New creates a new error
func New(message string) *Error {
	return &Error{
		Message: message,
		Stack:   captureStack(),
	}
}

// WithField adds a named field to the error, e.g. the missing request field
func (e *Error) WithField(key, value string) *Error {
	if e == nil {
		return nil
	}
	newErr := &Error{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Stack:   e.Stack,
		Fields:  make([]KeyValue, len(e.Fields)),
	}
	copy(newErr.Fields, e.Fields)
	newErr.Fields = append(newErr.Fields, KeyValue{Key: key, Value: value})
	return newErr
}

// FieldNames returns the keys of all attached fields
func (e *Error) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Key)
	}
	return names
}

// GetCode returns the error code, CodeUnknown for foreign errors
func GetCode(err error) int {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// IsCode reports whether the error chain carries the given code
func IsCode(err error, code int) bool {
	return err != nil && GetCode(err) == code
}

// Retryable reports whether the error is a transport-level failure
// that may succeed on a later attempt
func Retryable(err error) bool {
	switch GetCode(err) {
	case CodeConnectionFailed, CodeSubmissionFailed:
		return true
	}
	return false
}

// Cause returns the underlying error
func Cause(err error) error {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Err != nil {
			err = e.Err
		} else {
			return err
		}
	}
	return err
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// 移除顶部几行（captureStack 自身及构造函数的调用帧）
	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}
	return strings.TrimSpace(stack)
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
