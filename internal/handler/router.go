package handler

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/norkcraft/internal/middleware"
	"github.com/hitoshi/norkcraft/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService AuthServiceInterface

	// ヘルスチェック対象のストア（nilの場合は疎通確認しない）
	HealthChecker repository.Pinger

	// メトリクス（nilの場合は無効）
	HTTPMetrics    middleware.HTTPMetrics
	MetricsHandler http.Handler

	// ミドルウェア設定
	CORSAllowedOrigin string
	Logger            *slog.Logger

	// 静的ファイルの配信ディレクトリ（空の場合は配信しない）
	StaticDir string
}

type notFoundResponse struct {
	Message string `json:"message"`
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// Recoveryが書き込んだ500もLoggingとMetricsに記録される。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Post("/send-otp", authHandler.SendOTP)
		r.Post("/verify-otp", authHandler.VerifyOTP)
	})

	r.Get("/health", HealthHandler(deps.HealthChecker))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	fallback := staticOrNotFound(deps.StaticDir)
	r.NotFound(fallback)
	r.MethodNotAllowed(fallback)

	return r
}

// writeNotFound は未定義のエンドポイントに対するJSONレスポンスを書き込む。
func writeNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, notFoundResponse{Message: "Endpoint not found"})
}

// staticOrNotFound はdir配下に存在するファイルを配信し、それ以外はJSONの404を返すハンドラーを返す。
// /api/配下とGET・HEAD以外のメソッドは常に404とする。
// ディレクトリはindex.htmlを含む場合のみ配信し、一覧は返さない。
func staticOrNotFound(dir string) http.HandlerFunc {
	if dir == "" {
		return writeNotFound
	}

	root := http.Dir(dir)
	files := http.FileServer(root)

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
			writeNotFound(w, r)
			return
		}

		name := path.Clean("/" + r.URL.Path)
		f, err := root.Open(name)
		if err != nil {
			writeNotFound(w, r)
			return
		}
		info, err := f.Stat()
		f.Close()
		if err != nil {
			writeNotFound(w, r)
			return
		}

		if info.IsDir() {
			index, err := root.Open(path.Join(name, "index.html"))
			if err != nil {
				writeNotFound(w, r)
				return
			}
			index.Close()
		}

		files.ServeHTTP(w, r)
	}
}
