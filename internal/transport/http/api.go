package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/domain"
)

type signupRequest struct {
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Password string `json:"password"`
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	PlayerID    int64  `json:"player_id,omitempty"`
	Name        string `json:"name,omitempty"`
}

type startRequest struct {
	GameID        int64 `json:"game_id"`
	StageOverride *int  `json:"stage_override"`
}

type answerRequest struct {
	QuestionID int64 `json:"question_id"`
	Answer     *int  `json:"answer"`
}

type exclusionRequest struct {
	Exclude *bool `json:"exclude"`
}

type winningScoreRequest struct {
	WinningScore int `json:"winning_score"`
}

type unlockRequest struct {
	UnlockID int64 `json:"unlock_id"`
}

// startResponse flattens app.StartResult: session fields when a session was
// opened, the promotion prompt when the player must choose a stage first.
type startResponse struct {
	SessionID      int64            `json:"session_id,omitempty"`
	QuestionID     int64            `json:"question_id,omitempty"`
	Stage          int              `json:"stage,omitempty"`
	Question       *domain.Question `json:"question,omitempty"`
	ReadyToAdvance bool             `json:"ready_to_advance"`
	CurrentStage   int              `json:"current_stage,omitempty"`
	EligibleStage  int              `json:"eligible_stage,omitempty"`
	NextStage      int              `json:"next_stage,omitempty"`
}

func newStartResponse(res app.StartResult) startResponse {
	var out startResponse
	if res.Session != nil {
		out.SessionID = res.Session.ID
		out.Stage = res.Session.Stage
	}
	if res.Question != nil {
		out.QuestionID = res.Question.ID
		out.Question = res.Question
	}
	if p := res.Proposal; p != nil {
		out.ReadyToAdvance = p.ReadyToAdvance
		out.CurrentStage = p.CurrentStage
		out.EligibleStage = p.EligibleStage
		out.NextStage = p.NextStage
	}
	return out
}

type answerResponse struct {
	Correct           bool                  `json:"is_correct"`
	Score             int                   `json:"score"`
	Stage             int                   `json:"stage"`
	SessionComplete   bool                  `json:"session_complete"`
	NextQuestion      *domain.Question      `json:"next_question,omitempty"`
	WrongAnswersSoFar []domain.WrongAnswer  `json:"wrong_answers_so_far"`
	Summary           domain.SessionSummary `json:"summary"`
}

func newAnswerResponse(res app.AnswerResult) answerResponse {
	wrong := res.Summary.WrongAnswers
	if wrong == nil {
		wrong = []domain.WrongAnswer{}
	}
	return answerResponse{
		Correct:           res.Correct,
		Score:             res.Score,
		Stage:             res.Stage,
		SessionComplete:   res.SessionComplete,
		NextQuestion:      res.NextQuestion,
		WrongAnswersSoFar: wrong,
		Summary:           res.Summary,
	}
}

type playerStatsResponse struct {
	Player   domain.Player           `json:"player"`
	Sessions []domain.SessionSummary `json:"sessions"`
}

type trendsResponse struct {
	Period domain.Period        `json:"period"`
	Trends []domain.PeriodStats `json:"trends"`
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	player, err := h.players.Signup(r.Context(), req.Name, req.Age, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, player)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, player, err := h.players.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", PlayerID: player.ID, Name: player.Name})
}

func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, err := h.players.AdminLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", app.DefaultLeaderboardLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.reports.TopPlayers(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Leaderboard{Entries: entries, UpdatedAt: time.Now().UTC()})
}

func (h *Handler) playerInfo(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	player, err := h.players.PlayerByName(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// A token minted for a deleted account must not resolve to a new owner of the name.
	if player.ID != claims.PlayerID {
		writeError(w, r, fmt.Errorf("%w: account no longer exists", domain.ErrUnauthorized))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":               player.Name,
		"player_id":          player.ID,
		"selected_unlock_id": player.SelectedUnlockID,
	})
}

func (h *Handler) stage(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	gameID, err := queryInt64(r, "game_id", h.gameID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	proposal, err := h.games.ProposeStage(r.Context(), claims.PlayerID, gameID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req startRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.GameID == 0 {
		req.GameID = h.gameID
	}
	res, err := h.games.StartSession(r.Context(), claims.PlayerID, req.GameID, req.StageOverride)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Proposal != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, newStartResponse(res))
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.QuestionID <= 0 {
		writeError(w, r, fmt.Errorf("%w: question_id is required", domain.ErrValidation))
		return
	}
	res, err := h.games.SubmitAnswer(r.Context(), claims.PlayerID, req.QuestionID, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAnswerResponse(res))
}

func (h *Handler) gameState(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	state, err := h.games.CurrentState(r.Context(), claims.PlayerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	limit, err := queryInt(r, "limit", app.DefaultRecentSessions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sessions, err := h.reports.RecentSessions(r.Context(), claims.PlayerID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) listUnlocks(w http.ResponseWriter, r *http.Request) {
	unlocks, err := h.players.ListUnlocks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocks": unlocks})
}

func (h *Handler) myUnlocks(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	unlocks, err := h.players.MyUnlocks(r.Context(), claims.PlayerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocks": unlocks})
}

func (h *Handler) selectedUnlock(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	unlock, err := h.players.SelectedUnlock(r.Context(), claims.PlayerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlock": unlock})
}

func (h *Handler) claimUnlock(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req unlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UnlockID <= 0 {
		writeError(w, r, fmt.Errorf("%w: unlock_id is required", domain.ErrValidation))
		return
	}
	res, err := h.players.Unlock(r.Context(), claims.PlayerID, req.UnlockID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) selectUnlock(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req unlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UnlockID <= 0 {
		writeError(w, r, fmt.Errorf("%w: unlock_id is required", domain.ErrValidation))
		return
	}
	unlock, err := h.players.SelectUnlock(r.Context(), claims.PlayerID, req.UnlockID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlock": unlock})
}

func (h *Handler) listPlayers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "page_size", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.players.ListPlayers(r.Context(), domain.PlayerFilter{
		Search:   r.URL.Query().Get("search"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) playerStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", app.DefaultRecentSessions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	player, err := h.players.Player(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sessions, err := h.reports.RecentSessions(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, playerStatsResponse{Player: player, Sessions: sessions})
}

func (h *Handler) playerTrends(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	period, err := domain.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	trends, err := h.reports.Trends(r.Context(), id, period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trendsResponse{Period: period, Trends: trends})
}

func (h *Handler) comparePeriods(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p1, err := queryRange(r, "period1")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p2, err := queryRange(r, "period2")
	if err != nil {
		writeError(w, r, err)
		return
	}
	cmp, err := h.reports.ComparePeriods(r.Context(), id, p1, p2)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (h *Handler) setLeaderboardExclusion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req exclusionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Exclude == nil {
		writeError(w, r, fmt.Errorf("%w: exclude is required", domain.ErrValidation))
		return
	}
	player, err := h.players.SetLeaderboardExclusion(r.Context(), id, *req.Exclude)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (h *Handler) deletePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.players.DeletePlayer(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setWinningScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req winningScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	game, err := h.games.SetWinningScore(r.Context(), id, req.WinningScore)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// decodeOptionalJSON accepts an empty body as the zero request.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", domain.ErrValidation, r.PathValue("id"))
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return v, nil
}

func queryInt64(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, name)
	}
	return v, nil
}

// queryRange reads <prefix>_start and <prefix>_end. Plain dates cover the
// whole day, so an end date is inclusive.
func queryRange(r *http.Request, prefix string) (domain.DateRange, error) {
	start, err := parseDate(r.URL.Query().Get(prefix+"_start"), false)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("%s_start: %w", prefix, err)
	}
	end, err := parseDate(r.URL.Query().Get(prefix+"_end"), true)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("%s_end: %w", prefix, err)
	}
	return domain.DateRange{Start: start, End: end}, nil
}

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", domain.ErrValidation)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expected YYYY-MM-DD or RFC3339, got %q", domain.ErrValidation, raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}
