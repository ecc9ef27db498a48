package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/aidaily/internal/middleware"
	"github.com/hitoshi/aidaily/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// セッション
	Sessions SessionReader

	// 認証
	Form       AuthFormInterface
	Modal      ModalInterface
	Identity   IdentityInterface
	AuthConfig AuthHandlerConfig

	// フィード
	Loader  FeedLoaderInterface
	Stories StoryGetter

	// /metrics のハンドラー（nilの場合はルートを登録しない）
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → UserContext → Logging → SecurityHeaders → CORS → OriginCheck
//
// 認証エンドポイント（/api/auth/signin 等）にはさらにレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.NewUserContextMiddleware(func() *model.User {
		return deps.Sessions.State().User()
	}))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewOriginCheckMiddleware(deps.CORSAllowedOrigin, logger))

	sessionHandler := NewSessionHandler(deps.Sessions)
	authHandler := NewAuthHandler(deps.Form, deps.Modal, deps.Identity, deps.AuthConfig, logger)
	feedHandler := NewFeedHandler(deps.Loader, deps.Stories, logger)

	r.Get("/health", Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// OAuthフロー（ブラウザのリダイレクト）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.GoogleLogin)
		r.Get("/callback", authHandler.Callback)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", sessionHandler.GetSession)
		r.With(middleware.NewRequireUserMiddleware()).Get("/profile", sessionHandler.GetProfile)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/modal", authHandler.GetModal)
			r.Post("/modal", authHandler.SetModal)
			r.Get("/form", authHandler.GetForm)
			r.Post("/mode", authHandler.SetMode)
			r.Post("/signout", authHandler.SignOut)

			// IdPへ送信するエンドポイント
			r.Group(func(r chi.Router) {
				if deps.RateLimiter != nil {
					r.Use(deps.RateLimiter.Middleware())
				}
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signup", authHandler.SignUp)
				r.Post("/resend", authHandler.Resend)
				r.Post("/otp", authHandler.RequestOTP)
				r.Post("/otp/verify", authHandler.VerifyOTP)
			})
		})

		r.Get("/feed", feedHandler.GetFeed)
		r.Get("/personas", feedHandler.ListPersonas)

		r.Route("/stories/{id}", func(r chi.Router) {
			r.Get("/", feedHandler.GetStory)
			r.Put("/save", feedHandler.SaveStory)
			r.Delete("/save", feedHandler.UnsaveStory)
		})
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health はヘルスチェックに応答する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
