package sessionkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKey is the gin context key under which the session context is set.
const ContextKey = "session_context"

// RequireContext redirects to the login entry point when no session context
// exists. Absence is navigational here, not an authorization failure.
func RequireContext(service *Service) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		sessionContext, requireErr := service.RequireContext(contextGin.Request)
		if requireErr != nil {
			contextGin.Redirect(http.StatusFound, service.config.LoginPath)
			contextGin.Abort()
			return
		}
		contextGin.Set(ContextKey, sessionContext)
		contextGin.Next()
	}
}

// RequireAdmin enforces the admin flag on top of RequireContext. A present
// but non-admin context is a security violation, not a navigational case.
func RequireAdmin(service *Service) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		sessionContext, requireErr := service.RequireContext(contextGin.Request)
		if requireErr != nil {
			contextGin.Redirect(http.StatusFound, service.config.LoginPath)
			contextGin.Abort()
			return
		}
		if sessionContext.User == nil || !sessionContext.User.Admin {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(ContextKey, sessionContext)
		contextGin.Next()
	}
}

// ContextFrom retrieves the session context placed by the middleware.
func ContextFrom(contextGin *gin.Context) (*SessionContext, bool) {
	value, found := contextGin.Get(ContextKey)
	if !found {
		return nil, false
	}
	sessionContext, ok := value.(*SessionContext)
	return sessionContext, ok && sessionContext != nil
}
