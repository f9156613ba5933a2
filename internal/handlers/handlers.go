// Package handlers is the HTTP glue: the webhook listener, the OAuth dance,
// and the dashboard API the setup wizard talks to.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/docorganizer/docorganizer/internal/config"
	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/docorganizer/docorganizer/internal/provision"
	"github.com/docorganizer/docorganizer/internal/whatsapp"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

// sessionPhoneKey is where the OAuth flow parks the phone between redirects.
const sessionPhoneKey = "user_phone"

// Inbound is the state machine's webhook entry point.
type Inbound interface {
	HandleInbound(ctx context.Context, env *whatsapp.Envelope)
}

// UserStore is the slice of the record store the HTTP layer needs.
type UserStore interface {
	Get(phone string) (*models.User, bool)
	GetByEmail(email string) (*models.User, bool)
	SetToken(phone, tokenJSON string) error
	SetProfile(phone, email, name, picture string) error
	SetStatus(phone, status string) error
	SetSyllabusDraft(phone string, draft models.Syllabus) error
	SetFolderMap(phone string, folders models.FolderMap) error
	SetRootFolder(phone, folderID string) error
}

// OAuth is the subset of *oauth2.Config the login/callback handlers use.
type OAuth interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// SyllabusExtractor parses an uploaded syllabus document.
type SyllabusExtractor interface {
	ExtractSyllabus(ctx context.Context, filePath string) models.Syllabus
}

// SessionResolver turns a stored credential blob into a Drive session.
type SessionResolver interface {
	Resolve(ctx context.Context, storedToken string) (drive.Ops, error)
}

// Texter sends the post-setup chat messages.
type Texter interface {
	SendText(ctx context.Context, to, body string) error
}

// PhoneLocker serializes folder-map writes with the background workers, so a
// double-submitted setup or a racing provision task cannot fork the tree.
type PhoneLocker interface {
	WithLease(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Deps is everything the HTTP layer is wired with.
type Deps struct {
	Config      *config.Config
	Store       UserStore
	Engine      Inbound
	OAuth       OAuth
	Profiles    ProfileFetcher
	Extractor   SyllabusExtractor
	Sessions    SessionResolver
	Provisioner *provision.Provisioner
	Messenger   Texter
	Locks       PhoneLocker
	Logger      *slog.Logger
}

// NewRouter builds the gin router with all routes mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// Cookie session for the OAuth redirect round trip. SameSite=None because
	// the frontend and backend live on different origins.
	store := cookie.NewStore([]byte(d.Config.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		Secure:   d.Config.Env == "production",
		SameSite: http.SameSiteNoneMode,
	})
	r.Use(sessions.Sessions("docorganizer_session", store))

	r.GET("/health", healthHandler)

	r.GET("/webhook", verifyWebhookHandler(d.Config.VerifyToken))
	r.POST("/webhook", receiveWebhookHandler(d.Engine, d.Logger))

	r.GET("/login", loginHandler(d.OAuth))
	r.GET("/auth/callback", callbackHandler(d))
	r.GET("/logout", logoutHandler(d.Config.FrontendURL))

	r.POST("/upload-syllabus", uploadSyllabusHandler(d))

	api := r.Group("/api")
	api.GET("/dashboard-data", dashboardDataHandler(d.Store))
	api.POST("/complete-setup", completeSetupHandler(d))
	api.GET("/drive/browse", driveBrowseHandler(d))

	return r
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// verifyWebhookHandler echoes the challenge when the platform's verify token
// matches ours.
func verifyWebhookHandler(verifyToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("hub.verify_token") == verifyToken {
			c.String(http.StatusOK, c.Query("hub.challenge"))
			return
		}
		c.String(http.StatusForbidden, "Forbidden")
	}
}

// receiveWebhookHandler feeds deliveries to the state machine. It answers 200
// no matter what happened internally; anything else triggers the platform's
// redelivery storm.
func receiveWebhookHandler(engine Inbound, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var env whatsapp.Envelope
		if err := c.ShouldBindJSON(&env); err != nil {
			logger.Warn("undecodable webhook payload", "error", err.Error())
			c.String(http.StatusOK, "Bad payload")
			return
		}

		engine.HandleInbound(c.Request.Context(), &env)
		c.String(http.StatusOK, "OK")
	}
}

// sessionPhone reads the phone parked in the cookie session, empty when
// absent.
func sessionPhone(c *gin.Context) string {
	phone, _ := sessions.Default(c).Get(sessionPhoneKey).(string)
	return phone
}
