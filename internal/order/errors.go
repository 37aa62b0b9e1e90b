package order

import "errors"

// ErrorKind 为单笔订单失败的分类。
type ErrorKind string

const (
	ErrorRejected            ErrorKind = "rejected"
	ErrorInvalidInstrument   ErrorKind = "invalid_instrument"
	ErrorInsufficientBalance ErrorKind = "insufficient_balance"
	ErrorInvalidParameters   ErrorKind = "invalid_parameters"
	ErrorNotFound            ErrorKind = "not_found"
	ErrorTransport           ErrorKind = "transport"
)

var (
	ErrRejected            = &Error{Kind: ErrorRejected}
	ErrInvalidInstrument   = &Error{Kind: ErrorInvalidInstrument}
	ErrInsufficientBalance = &Error{Kind: ErrorInsufficientBalance}
	ErrInvalidParameters   = &Error{Kind: ErrorInvalidParameters}
	ErrNotFound            = &Error{Kind: ErrorNotFound}
	ErrTransport           = &Error{Kind: ErrorTransport}
)

// Error 是只影响单笔订单的失败，作为结果载荷返回而不是让整个调用失败。
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError 创建指定类型的订单错误。
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 使用底层错误创建订单错误。
func Wrap(kind ErrorKind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误类型匹配，使 errors.Is(err, ErrNotFound) 成立。
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}
