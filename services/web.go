package services

import (
	context2 "context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/gochat/config"
	"github.com/requiem-ai/gochat/context"
)

//go:embed assets
var assets embed.FS

const (
	maxRequestBody    = 1 << 20
	sessionCookieName = "gochat_session"
	pageTitle         = "AIチャット"
)

// WebService serves the browser chat: a credential form, the transcript and a streaming prompt box.
type WebService struct {
	context.DefaultService

	Config *config.Config

	chat    *ChatService
	page    *template.Template
	handler http.Handler
	httpSrv *http.Server
}

const WEB_SVC = "web_svc"

func (svc WebService) Id() string {
	return WEB_SVC
}

func (svc *WebService) Configure(ctx *context.Context) error {
	if err := svc.DefaultService.Configure(ctx); err != nil {
		return err
	}

	chatSvc, ok := svc.Service(CHAT_SVC).(*ChatService)
	if !ok {
		return errors.New("web service requires the chat service")
	}
	svc.chat = chatSvc

	page, err := template.ParseFS(assets, "assets/index.html")
	if err != nil {
		return fmt.Errorf("parse page template: %w", err)
	}
	svc.page = page

	static, err := fs.Sub(assets, "assets")
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", svc.handleIndex)
	mux.HandleFunc("POST /key", svc.handleKey)
	mux.HandleFunc("POST /chat", svc.handleChatForm)
	mux.HandleFunc("POST /api/chat", svc.handleChatStream)
	mux.HandleFunc("POST /api/cancel", svc.handleCancel)
	mux.HandleFunc("GET /api/history", svc.handleHistory)
	mux.HandleFunc("POST /session/end", svc.handleEndSession)
	mux.HandleFunc("GET /health", svc.handleHealth)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	svc.handler = withLogging(log.Logger, limitBody(csrfProtect(mux)))

	return nil
}

// Handler is the full middleware chain, for tests and embedding.
func (svc *WebService) Handler() http.Handler {
	return svc.handler
}

func (svc *WebService) Start() error {
	ln, err := net.Listen("tcp", svc.Config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", svc.Config.Server.Addr, err)
	}

	svc.httpSrv = &http.Server{
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // replies stream for as long as the provider does
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := svc.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("web server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("web chat listening")
	return nil
}

func (svc *WebService) Shutdown() {
	if svc.httpSrv == nil {
		return
	}

	ctx, cancel := context2.WithTimeout(context2.Background(), 15*time.Second)
	defer cancel()
	if err := svc.httpSrv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("web server shutdown")
	}
}

func withLogging(logger zerolog.Logger, next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	return hlog.NewHandler(logger)(h)
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		}
		next.ServeHTTP(w, r)
	})
}

// csrfProtect rejects POSTs whose Origin is neither a localhost address nor the server's own host.
// Requests without Origin (curl, the no-JS form in older browsers) pass.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if origin := r.Header.Get("Origin"); origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, "invalid Origin header", http.StatusForbidden)
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" && u.Host != r.Host {
					hlog.FromRequest(r).Warn().Str("origin", origin).Msg("cross-origin request blocked")
					http.Error(w, "cross-origin request blocked", http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
