package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
	sec "github.com/ntpoppe/sharply-sub000/tools/security"
)

// CtxUserIDKey is where the middleware places the verified caller ID;
// downstream handlers read it with c.GetString.
const CtxUserIDKey = "auth_user_id"

type Options struct {
	JWT sec.Options

	HeaderToken               string // default "Authorization"
	EnableAuthorizationBearer bool   // default true
}

func DefaultOptions(jwt sec.Options) *Options {
	return &Options{
		JWT:                       jwt,
		HeaderToken:               "Authorization",
		EnableAuthorizationBearer: true,
	}
}

// Middleware verifies the bearer token and stores the subject user ID
// in the request context. Requests without a valid token are rejected.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts.HeaderToken == "" {
		opts.HeaderToken = "Authorization"
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if opts.EnableAuthorizationBearer && strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"code": errs.CodeTokenInvalid, "error": "missing token"})
			return
		}
		userID, err := sec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"code": errs.CodeTokenInvalid, "error": "invalid token"})
			return
		}
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}
