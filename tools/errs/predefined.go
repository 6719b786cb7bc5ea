package errs

// Error codes grouped by concern: 1xxx registry, 2xxx client input,
// 3xxx persistence, 4xxx auth.
const (
	CodeDuplicateConnection    = 1001
	CodeConnectionNotFound     = 1002
	CodeEmptyContent           = 2001
	CodeChannelNotFound        = 2002
	CodeAccessDenied           = 2003
	CodePersistenceUnavailable = 3001
	CodeUserNotFound           = 3002
	CodeTokenInvalid           = 4001
	CodeTokenExpired           = 4002
)

var (
	// ErrDuplicateConnection: a transport handed us a connection ID that is
	// already registered. Fatal to the offending connect attempt only.
	ErrDuplicateConnection = NewCodeError(CodeDuplicateConnection, "connection already registered")

	ErrConnectionNotFound = NewCodeError(CodeConnectionNotFound, "connection not found")

	ErrEmptyContent    = NewCodeError(CodeEmptyContent, "message content is empty")
	ErrChannelNotFound = NewCodeError(CodeChannelNotFound, "channel not found")
	ErrAccessDenied    = NewCodeError(CodeAccessDenied, "no access to channel")

	ErrPersistenceUnavailable = NewCodeError(CodePersistenceUnavailable, "persistence unavailable")
	ErrUserNotFound           = NewCodeError(CodeUserNotFound, "user not found")

	ErrTokenInvalid = NewCodeError(CodeTokenInvalid, "token invalid")
	ErrTokenExpired = NewCodeError(CodeTokenExpired, "token expired")
)
