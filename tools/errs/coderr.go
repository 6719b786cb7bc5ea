package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type CodeErrorI interface {
	ECode() int
	EMsg() string
	EDetail() string
	error
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) ECode() int      { return e.Code }
func (e *CodeError) EMsg() string    { return e.Msg }
func (e *CodeError) EDetail() string { return e.Detail }

func (e *CodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("[%d] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Msg, e.Detail)
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// WithDetail returns a copy carrying the extra detail, leaving the
// predefined error value untouched.
func (e *CodeError) WithDetail(detail string) *CodeError {
	ret := e.clone()
	if ret.Detail == "" {
		ret.Detail = detail
	} else {
		ret.Detail += ", " + detail
	}
	return ret
}

// WrapMsg attaches a formatted detail plus key/value pairs and a stack.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if ret.Detail == "" {
			ret.Detail = detail
		} else {
			ret.Detail += ", " + detail
		}
	}
	return errors.WithStack(ret)
}

// Is matches by code so wrapped and detailed copies compare equal to
// their predefined value under errors.Is.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		}
	}
	return sb.String()
}

// Unwrap peels pkg/errors wrapping down to the innermost cause.
func Unwrap(err error) error {
	for err != nil {
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		v := unwrap.Unwrap()
		if v == nil {
			break
		}
		err = v
	}
	return err
}

func Wrap(err error) error {
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(errors.WithStack(err), toString(msg, kv))
}

func New(s string, kv ...any) error {
	return errors.New(toString(s, kv))
}
