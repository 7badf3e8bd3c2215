package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/auth"
)

// Config wires the services behind the HTTP API.
type Config struct {
	Games   *app.GameService
	Reports *app.ReportService
	Players *app.PlayerService
	Tokens  TokenParser
	// Limiter guards the credential endpoints. Nil disables rate limiting.
	Limiter RateLimiter
	Logger  *slog.Logger
	// GameID is used when a start request names no game.
	GameID int64
}

// Handler serves the JSON API and the live leaderboard socket.
type Handler struct {
	games    *app.GameService
	reports  *app.ReportService
	players  *app.PlayerService
	tokens   TokenParser
	limiter  RateLimiter
	logger   *slog.Logger
	gameID   int64
	upgrader websocket.Upgrader
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		games:   cfg.Games,
		reports: cfg.Reports,
		players: cfg.Players,
		tokens:  cfg.Tokens,
		limiter: cfg.Limiter,
		logger:  logger,
		gameID:  cfg.GameID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the full route table wrapped in request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /signup", h.rateLimited(h.signup))
	mux.HandleFunc("POST /login", h.rateLimited(h.login))
	mux.HandleFunc("POST /admin/login", h.rateLimited(h.adminLogin))
	mux.HandleFunc("GET /api/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /ws/leaderboard", h.ServeLeaderboardWS)

	player := func(fn http.HandlerFunc) http.HandlerFunc { return h.requireRole(auth.RolePlayer, fn) }
	mux.HandleFunc("GET /api/player_info", player(h.playerInfo))
	mux.HandleFunc("GET /api/stage", player(h.stage))
	mux.HandleFunc("POST /start", player(h.start))
	mux.HandleFunc("POST /answer", player(h.answer))
	mux.HandleFunc("GET /api/game_state", player(h.gameState))
	mux.HandleFunc("GET /api/stats", player(h.stats))
	mux.HandleFunc("GET /api/unlocks", h.listUnlocks)
	mux.HandleFunc("GET /api/unlocks/mine", player(h.myUnlocks))
	mux.HandleFunc("GET /api/unlocks/selected", player(h.selectedUnlock))
	mux.HandleFunc("POST /api/unlocks/unlock", player(h.claimUnlock))
	mux.HandleFunc("POST /api/unlocks/select", player(h.selectUnlock))

	admin := func(fn http.HandlerFunc) http.HandlerFunc { return h.requireRole(auth.RoleAdmin, fn) }
	mux.HandleFunc("GET /admin/players", admin(h.listPlayers))
	mux.HandleFunc("GET /admin/players/{id}/stats", admin(h.playerStats))
	mux.HandleFunc("GET /admin/players/{id}/trends", admin(h.playerTrends))
	mux.HandleFunc("GET /admin/players/{id}/compare", admin(h.comparePeriods))
	mux.HandleFunc("PATCH /admin/players/{id}/leaderboard", admin(h.setLeaderboardExclusion))
	mux.HandleFunc("DELETE /admin/players/{id}", admin(h.deletePlayer))
	mux.HandleFunc("PUT /admin/games/{id}/winning_score", admin(h.setWinningScore))

	return withRequestLog(h.logger, mux)
}
