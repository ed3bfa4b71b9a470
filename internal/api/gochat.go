package api

import (
	"net/http"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/roomsync/internal/account"
	"github.com/npezzotti/roomsync/internal/config"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/server"
	"github.com/npezzotti/roomsync/internal/session"
	"go.uber.org/zap"
)

var pageRoutes = []string{
	"/",
	"/login",
	"/create-account",
	"/forgot-password",
	"/terms-and-policy",
	session.ChatRoute,
}

type Deps struct {
	Accounts   *account.Service
	Guard      *session.Guard
	ChatServer *server.ChatServer
	DB         database.GoChatRepository
}

type GoChatApp struct {
	log            *zap.SugaredLogger
	accounts       *account.Service
	guard          *session.Guard
	cs             *server.ChatServer
	db             database.GoChatRepository
	validate       *validator.Validate
	srv            *http.Server
	signingKey     []byte
	allowedOrigins []string
	secureCookies  bool
}

func NewGoChatApp(mux *http.ServeMux, logger *zap.SugaredLogger, deps Deps, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		accounts:       deps.Accounts,
		guard:          deps.Guard,
		cs:             deps.ChatServer,
		db:             deps.DB,
		validate:       newValidator(),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		secureCookies:  cfg.Production,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/logout", s.logout)
	mux.HandleFunc("GET /api/auth/session", s.session)
	mux.HandleFunc("POST /api/auth/activity", s.activity)
	mux.HandleFunc("GET /api/auth/verify", s.verifyEmail)
	mux.HandleFunc("POST /api/auth/resend-verification", s.resendVerification)
	mux.HandleFunc("POST /api/auth/forgot-password", s.forgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", s.resetPassword)
	mux.Handle("GET /api/account", s.authMiddleware(s.account))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("DELETE /api/rooms", s.authMiddleware(s.deleteRoom))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthz)

	if cfg.StaticDir != "" {
		s.mountPages(mux, cfg.StaticDir)
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.requestLogger(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// mountPages serves the single-page client. Every page route returns
// index.html behind the page guard; other paths are static assets.
func (s *GoChatApp) mountPages(mux *http.ServeMux, dir string) {
	index := filepath.Join(dir, "index.html")
	page := s.pageGuard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	}))

	for _, route := range pageRoutes {
		pattern := "GET " + route
		if route == "/" {
			pattern = "GET /{$}"
		}
		mux.Handle(pattern, page)
	}

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(filepath.Join(dir, "static")))))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
