package webui

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/gatekit/internal/directory"
	"github.com/mprlab/gatekit/internal/sessionkit"
)

// Form field and method names are the wire contract with the login page and
// the browser auth client.
const (
	FieldMethod       = "_method"
	FieldIDToken      = "id-token"
	FieldXSRFToken    = "xsrf-token"
	FieldRefreshToken = "refresh-token"
	FieldEmail        = "email"
	FieldDisplayName  = "display-name"

	MethodLogin      = "login"
	MethodLogout     = "logout"
	MethodRefresh    = "refresh"
	MethodCheckEmail = "check-email"
)

// PageServer wires the session service, xsrf guard, and user directory into
// the page routes. Everything here is thin glue over the session subsystem.
type PageServer struct {
	service *sessionkit.Service
	xsrf    *sessionkit.XSRFGuard
	users   directory.Directory
	logger  *zap.Logger
}

// NewPageServer constructs the route handler set.
func NewPageServer(service *sessionkit.Service, xsrf *sessionkit.XSRFGuard, users directory.Directory, logger *zap.Logger) *PageServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageServer{service: service, xsrf: xsrf, users: users, logger: logger}
}

// MountRoutes registers the public pages, the login form endpoint, and the
// protected profile/admin pages.
func (server *PageServer) MountRoutes(router gin.IRouter) {
	router.GET("/", server.handleHome)
	router.POST("/", server.handleHomeAction)
	router.GET("/login", server.handleLoginPage)
	router.POST("/login", server.handleLoginAction)
	router.POST("/logout", server.handleLogout)
	router.GET("/session/context", server.handleContext)

	protected := router.Group("")
	protected.Use(sessionkit.RequireContext(server.service))
	protected.GET("/profile", server.handleProfile)

	admin := router.Group("/admin")
	admin.Use(sessionkit.RequireAdmin(server.service))
	admin.GET("", server.handleAdminIndex)
	admin.GET("/add", server.handleAdminAddPage)
	admin.POST("/add", server.handleAdminAddAction)
}

func (server *PageServer) handleHome(contextGin *gin.Context) {
	sessionContext := server.service.GetContext(contextGin.Request)
	contextGin.HTML(http.StatusOK, "home.html", gin.H{
		"Context": sessionContext,
	})
}

// handleHomeAction implements the layout form: a single button that logs in
// or out depending on the current context.
func (server *PageServer) handleHomeAction(contextGin *gin.Context) {
	switch contextGin.PostForm(FieldMethod) {
	case MethodLogin:
		contextGin.Redirect(http.StatusFound, "/login")
	case MethodLogout:
		server.applyCookies(contextGin, server.service.Logout(contextGin.Request.Context(), contextGin.Request))
		contextGin.Redirect(http.StatusFound, "/login")
	default:
		contextGin.String(http.StatusBadRequest, "unsupported _method")
	}
}

func (server *PageServer) handleLoginPage(contextGin *gin.Context) {
	if sessionContext := server.service.GetContext(contextGin.Request); sessionContext.Authenticated() {
		contextGin.Redirect(http.StatusFound, "/")
		return
	}
	token, cookie, issueErr := server.xsrf.Issue(contextGin.Request)
	if issueErr != nil {
		server.logger.Error("xsrf issue failed",
			zap.String("code", "login.xsrf_issue"),
			zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	http.SetCookie(contextGin.Writer, cookie)
	contextGin.HTML(http.StatusOK, "login.html", gin.H{
		"XSRFToken": token,
	})
}

func (server *PageServer) handleLoginAction(contextGin *gin.Context) {
	switch contextGin.PostForm(FieldMethod) {
	case MethodLogin:
		server.handleLoginSubmit(contextGin)
	case MethodRefresh:
		server.handleRefreshSubmit(contextGin)
	case MethodCheckEmail:
		server.handleCheckEmail(contextGin)
	default:
		contextGin.String(http.StatusBadRequest, "unsupported _method")
	}
}

func (server *PageServer) handleLoginSubmit(contextGin *gin.Context) {
	idToken := contextGin.PostForm(FieldIDToken)
	xsrfToken := contextGin.PostForm(FieldXSRFToken)
	if idToken == "" || xsrfToken == "" {
		contextGin.String(http.StatusBadRequest, "invalid parameters")
		return
	}

	if _, present := server.xsrf.Token(contextGin.Request); !present {
		// Token cookie aged out while the page sat open. Expected; restart
		// the flow with a fresh GET.
		server.logger.Info("xsrf cookie expired, restarting login",
			zap.String("code", "login.xsrf_expired"))
		contextGin.Redirect(http.StatusFound, "/login")
		return
	}
	if !server.xsrf.Validate(contextGin.Request, xsrfToken) {
		server.logger.Warn("xsrf token mismatch",
			zap.String("code", "login.xsrf_mismatch"))
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	_, cookies, createErr := server.service.CreateSession(contextGin.Request.Context(), idToken, sessionkit.SessionProperties{})
	if createErr != nil {
		server.writeSessionError(contextGin, createErr)
		return
	}
	server.applyCookies(contextGin, cookies)
	contextGin.Redirect(http.StatusFound, "/")
}

func (server *PageServer) handleRefreshSubmit(contextGin *gin.Context) {
	idToken := contextGin.PostForm(FieldIDToken)
	refreshToken := contextGin.PostForm(FieldRefreshToken)
	if idToken == "" || refreshToken == "" {
		contextGin.String(http.StatusBadRequest, "invalid parameters")
		return
	}

	sessionContext, cookies, refreshErr := server.service.RefreshSession(contextGin.Request.Context(), contextGin.Request, refreshToken, idToken, sessionkit.SessionProperties{})
	if refreshErr != nil {
		if errors.Is(refreshErr, sessionkit.ErrRefreshExpired) {
			contextGin.Redirect(http.StatusFound, "/login")
			return
		}
		server.writeSessionError(contextGin, refreshErr)
		return
	}
	server.applyCookies(contextGin, cookies)
	contextGin.JSON(http.StatusOK, sessionContext)
}

func (server *PageServer) handleCheckEmail(contextGin *gin.Context) {
	email := contextGin.PostForm(FieldEmail)
	if email == "" {
		contextGin.String(http.StatusBadRequest, "invalid parameters")
		return
	}
	// The provider sends the actual sign-in link; the page only confirms.
	// Unknown addresses render the same confirmation so the form cannot be
	// used to probe the directory.
	if _, lookupErr := server.users.LookupByEmail(contextGin.Request.Context(), email); lookupErr != nil && !errors.Is(lookupErr, directory.ErrUserNotFound) {
		server.logger.Error("directory lookup failed",
			zap.String("code", "login.check_email_lookup"),
			zap.Error(lookupErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.HTML(http.StatusOK, "check_email.html", gin.H{
		"Email": email,
	})
}

func (server *PageServer) handleLogout(contextGin *gin.Context) {
	server.applyCookies(contextGin, server.service.Logout(contextGin.Request.Context(), contextGin.Request))
	contextGin.Redirect(http.StatusFound, "/login")
}

// handleContext is the read-only reload endpoint the refresh scheduler calls
// when a sibling tab broadcasts a rotation. It never rotates anything.
func (server *PageServer) handleContext(contextGin *gin.Context) {
	sessionContext := server.service.GetContext(contextGin.Request)
	if sessionContext == nil {
		contextGin.JSON(http.StatusOK, nil)
		return
	}
	contextGin.JSON(http.StatusOK, sessionContext)
}

func (server *PageServer) handleProfile(contextGin *gin.Context) {
	sessionContext, _ := sessionkit.ContextFrom(contextGin)
	if !sessionContext.Authenticated() {
		// Session expired but the refresh record survives. The browser client
		// rotates on the login page; a full page load just restarts there.
		contextGin.Redirect(http.StatusFound, "/login")
		return
	}
	contextGin.HTML(http.StatusOK, "profile.html", gin.H{
		"Context": sessionContext,
	})
}

func (server *PageServer) handleAdminIndex(contextGin *gin.Context) {
	users, listErr := server.users.ListUsers(contextGin.Request.Context())
	if listErr != nil {
		server.logger.Error("directory list failed",
			zap.String("code", "admin.list_users"),
			zap.Error(listErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.HTML(http.StatusOK, "admin.html", gin.H{
		"Users": users,
	})
}

func (server *PageServer) handleAdminAddPage(contextGin *gin.Context) {
	contextGin.HTML(http.StatusOK, "admin_add.html", nil)
}

func (server *PageServer) handleAdminAddAction(contextGin *gin.Context) {
	displayName := contextGin.PostForm(FieldDisplayName)
	email := contextGin.PostForm(FieldEmail)
	if displayName == "" {
		contextGin.String(http.StatusUnprocessableEntity, "display-name required")
		return
	}
	if email == "" {
		contextGin.String(http.StatusUnprocessableEntity, "email required")
		return
	}
	if _, addErr := server.users.AddUser(contextGin.Request.Context(), email, displayName); addErr != nil {
		server.logger.Error("directory add failed",
			zap.String("code", "admin.add_user"),
			zap.Error(addErr))
		contextGin.String(http.StatusBadRequest, "could not add user")
		return
	}
	contextGin.Redirect(http.StatusFound, "/admin")
}

func (server *PageServer) applyCookies(contextGin *gin.Context, cookies []*http.Cookie) {
	for _, cookie := range cookies {
		http.SetCookie(contextGin.Writer, cookie)
	}
}

func (server *PageServer) writeSessionError(contextGin *gin.Context, sessionErr error) {
	if errors.Is(sessionErr, sessionkit.ErrVerifierUnavailable) {
		contextGin.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	if errors.Is(sessionErr, sessionkit.ErrUnauthorized) || errors.Is(sessionErr, sessionkit.ErrAssertionRevoked) {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	server.logger.Error("session operation failed",
		zap.String("code", "session.internal_error"),
		zap.Error(sessionErr))
	contextGin.AbortWithStatus(http.StatusInternalServerError)
}
