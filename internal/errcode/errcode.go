package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误码约定：
// - 0：无错误
// - 4xxx：调用方可修正的业务错误（直接返回给调用方）
// - 5xxx：系统错误（需要调用方稍后重试）
const (
	OK               = 0
	ValidationFailed = 4000
	NotAuthenticated = 4001
	AccessDenied     = 4003
	ResourceMissing  = 4004
	InvariantBroken  = 4009
	CeilingExceeded  = 4022
	SystemError      = 5000
	TransientFailure = 5003
)

// 错误分类（Kind），服务层只返回这些哨兵错误或其包装。
var (
	Unauthenticated    = errors.New("unauthenticated")
	Forbidden          = errors.New("forbidden")
	ValidationError    = errors.New("validation error")
	LimitExceeded      = errors.New("limit exceeded")
	NotFound           = errors.New("not found")
	InvariantViolation = errors.New("invariant violation")
	Transient          = errors.New("transient failure")
)

// Error 携带分类与面向调用方的说明。
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is 让 errors.Is(err, errcode.NotFound) 等判断成立。
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *Error) Unwrap() error { return e.Err }

// New 构造带说明的分类错误。
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 将底层存储/网络错误包装为 Transient。
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Transient, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 返回错误所属分类，未知错误归为 Transient。
func KindOf(err error) error {
	for _, kind := range []error{Unauthenticated, Forbidden, ValidationError, LimitExceeded, NotFound, InvariantViolation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return Transient
}

// HTTPStatus 把错误映射为 HTTP 状态码与业务码。
func HTTPStatus(err error) (status int, code int) {
	switch KindOf(err) {
	case Unauthenticated:
		return http.StatusUnauthorized, NotAuthenticated
	case Forbidden:
		return http.StatusForbidden, AccessDenied
	case ValidationError:
		return http.StatusBadRequest, ValidationFailed
	case LimitExceeded:
		return http.StatusUnprocessableEntity, CeilingExceeded
	case NotFound:
		return http.StatusNotFound, ResourceMissing
	case InvariantViolation:
		return http.StatusConflict, InvariantBroken
	default:
		return http.StatusServiceUnavailable, TransientFailure
	}
}
