package chat

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
	"github.com/ntpoppe/sharply-sub000/tools/security"
)

// LoginDirectory is the lookup the login endpoint needs on top of
// UserDirectory: resolving a login name back to a user ID. Credential
// checking itself lives outside this service.
type LoginDirectory interface {
	UserIDByName(ctx context.Context, username string) (string, error)
}

// HTTPApi exposes the REST side of the gateway: token issuance,
// channel history and grant-change notification.
type HTTPApi struct {
	srv     *Server
	logins  LoginDirectory
	jwtOpts security.Options
}

func NewHTTPApi(srv *Server, logins LoginDirectory, jwtOpts security.Options) *HTTPApi {
	return &HTTPApi{srv: srv, logins: logins, jwtOpts: jwtOpts}
}

// Mount registers routes. authed routes expect the security middleware
// to have placed the caller's user ID in the context.
func (a *HTTPApi) Mount(r gin.IRoutes, authed gin.IRoutes) {
	r.POST("/auth/login", a.handleLogin)
	authed.GET("/channels/:id/history", a.handleHistory)
	authed.GET("/roster", a.handleRoster)
	authed.POST("/users/:id/access/refresh", a.handleRefreshAccess)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
}

func (a *HTTPApi) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}
	userID, err := a.logins.UserIDByName(c.Request.Context(), req.Username)
	if err != nil {
		writeCodeError(c, err)
		return
	}
	token, expireAt, err := security.Generate(a.jwtOpts, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"token":     token,
		"expire_at": expireAt.UnixMilli(),
	})
}

func (a *HTTPApi) handleHistory(c *gin.Context) {
	channelID := c.Param("id")
	msgs, err := a.srv.Store().History(c.Request.Context(), channelID)
	if err != nil {
		writeCodeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (a *HTTPApi) handleRoster(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": a.srv.Roster(c.Request.Context())})
}

// handleRefreshAccess is called by the management plane after a grant
// or revoke, so online users pick the change up without reconnecting.
func (a *HTTPApi) handleRefreshAccess(c *gin.Context) {
	userID := c.Param("id")
	if err := a.srv.RefreshAccess(c.Request.Context(), userID); err != nil {
		writeCodeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeCodeError(c *gin.Context, err error) {
	var ce *errs.CodeError
	if !stderrors.As(err, &ce) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusBadRequest
	switch ce.Code {
	case errs.CodeUserNotFound, errs.CodeChannelNotFound:
		status = http.StatusNotFound
	case errs.CodeAccessDenied:
		status = http.StatusForbidden
	case errs.CodePersistenceUnavailable:
		status = http.StatusServiceUnavailable
	case errs.CodeTokenInvalid, errs.CodeTokenExpired:
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"code": ce.Code, "error": ce.Msg})
}
