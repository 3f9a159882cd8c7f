// Package apperr 定义业务错误分类，handler 层据此映射 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindExternal     Kind = "external_service_error"
	KindInternal     Kind = "internal_error"
)

// Error 业务错误
//
// Code 是稳定的机器可读标识（如 capacity_exceeded），errors.Is 按 Code 比较，
// 所以同一个哨兵错误可以在不同调用点附加不同的 Field / Details 后继续匹配。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithField 返回附带字段名的副本
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// WithDetails 返回附带明细的副本
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap 返回包装了底层错误的副本
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// Msg 返回替换了提示文案的副本
func (e *Error) Msg(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_" + field, Message: message, Field: field}
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Forbidden(code, message string) *Error {
	return New(KindForbidden, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func InvalidState(code, message string) *Error {
	return New(KindInvalidState, code, message)
}

// External 第三方服务（身份、支付、存储、通知）调用失败
func External(provider string, err error) *Error {
	return &Error{
		Kind:    KindExternal,
		Code:    provider + "_error",
		Message: provider + " 服务调用失败",
		Err:     err,
	}
}

// KindOf 取出错误链上第一个 *Error 的分类，非业务错误视为内部错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As 取出错误链上的 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
