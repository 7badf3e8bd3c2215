package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"math-quiz-service/internal/domain"
)

type txKey struct{}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// state is everything a transaction can roll back. Questions live outside it
// so a restock performed mid-transaction survives a rollback.
type state struct {
	players  map[int64]domain.Player
	unlocks  map[int64]domain.Unlock
	owned    map[int64]map[int64]struct{}
	games    map[int64]domain.Game
	sessions map[int64]domain.PlayerSession
	answers  []domain.Answer

	nextPlayerID  int64
	nextUnlockID  int64
	nextGameID    int64
	nextSessionID int64
	nextAnswerID  int64
}

func newState() state {
	return state{
		players:  make(map[int64]domain.Player),
		unlocks:  make(map[int64]domain.Unlock),
		owned:    make(map[int64]map[int64]struct{}),
		games:    make(map[int64]domain.Game),
		sessions: make(map[int64]domain.PlayerSession),
	}
}

func (st state) clone() state {
	out := st
	out.players = make(map[int64]domain.Player, len(st.players))
	for k, v := range st.players {
		out.players[k] = v
	}
	out.unlocks = make(map[int64]domain.Unlock, len(st.unlocks))
	for k, v := range st.unlocks {
		out.unlocks[k] = v
	}
	out.owned = make(map[int64]map[int64]struct{}, len(st.owned))
	for playerID, ids := range st.owned {
		set := make(map[int64]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		out.owned[playerID] = set
	}
	out.games = make(map[int64]domain.Game, len(st.games))
	for k, v := range st.games {
		out.games[k] = v
	}
	out.sessions = make(map[int64]domain.PlayerSession, len(st.sessions))
	for k, v := range st.sessions {
		out.sessions[k] = v
	}
	out.answers = append([]domain.Answer(nil), st.answers...)
	return out
}

// Store is an in-memory implementation of app.Store, app.QuestionBank and
// app.QuestionImporter. Transactions are serialized and roll back by
// restoring a snapshot.
type Store struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	state state

	qmu       sync.Mutex
	questions map[int64]domain.Question
	nextQID   int64
	rnd       *rand.Rand
}

func NewStore() *Store {
	return &Store{
		state:     newState(),
		questions: make(map[int64]domain.Question),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithinTx runs fn with every write serialized behind it. When fn fails all
// writes it made are discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

func (s *Store) CreatePlayer(ctx context.Context, player *domain.Player) error {
	return s.write(ctx, func(st *state) error {
		for _, p := range st.players {
			if p.Name == player.Name {
				return domain.ErrPlayerExists
			}
		}
		st.nextPlayerID++
		player.ID = st.nextPlayerID
		st.players[player.ID] = *player
		return nil
	})
}

func (s *Store) GetPlayer(_ context.Context, id int64) (domain.Player, error) {
	var player domain.Player
	err := s.read(func(st *state) error {
		p, ok := st.players[id]
		if !ok {
			return domain.ErrPlayerNotFound
		}
		player = p
		return nil
	})
	return player, err
}

func (s *Store) GetPlayerByName(_ context.Context, name string) (domain.Player, error) {
	var player domain.Player
	err := s.read(func(st *state) error {
		for _, p := range st.players {
			if p.Name == name {
				player = p
				return nil
			}
		}
		return domain.ErrPlayerNotFound
	})
	return player, err
}

func (s *Store) ListPlayers(_ context.Context, filter domain.PlayerFilter) ([]domain.Player, int, error) {
	var matched []domain.Player
	search := strings.ToLower(filter.Search)
	_ = s.read(func(st *state) error {
		for _, p := range st.players {
			if search == "" || strings.Contains(strings.ToLower(p.Name), search) {
				matched = append(matched, p)
			}
		}
		return nil
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	start := min(filter.Offset(), total)
	end := total
	if filter.PageSize > 0 {
		end = min(start+filter.PageSize, total)
	}
	return matched[start:end], total, nil
}

func (s *Store) SetLeaderboardExclusion(ctx context.Context, id int64, excluded bool) error {
	return s.write(ctx, func(st *state) error {
		p, ok := st.players[id]
		if !ok {
			return domain.ErrPlayerNotFound
		}
		p.ExcludeFromLeaderboard = excluded
		st.players[id] = p
		return nil
	})
}

func (s *Store) DeletePlayer(ctx context.Context, id int64) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.players[id]; !ok {
			return domain.ErrPlayerNotFound
		}
		delete(st.players, id)
		delete(st.owned, id)
		removed := make(map[int64]struct{})
		for sid, session := range st.sessions {
			if session.PlayerID == id {
				removed[sid] = struct{}{}
				delete(st.sessions, sid)
			}
		}
		kept := st.answers[:0]
		for _, a := range st.answers {
			if _, gone := removed[a.SessionID]; !gone {
				kept = append(kept, a)
			}
		}
		st.answers = kept
		return nil
	})
}

func (s *Store) CreateUnlock(ctx context.Context, unlock *domain.Unlock) error {
	return s.write(ctx, func(st *state) error {
		for _, u := range st.unlocks {
			if u.Name == unlock.Name {
				return fmt.Errorf("%w: unlock %q already exists", domain.ErrConflict, unlock.Name)
			}
		}
		st.nextUnlockID++
		unlock.ID = st.nextUnlockID
		st.unlocks[unlock.ID] = *unlock
		return nil
	})
}

func (s *Store) GetUnlock(_ context.Context, id int64) (domain.Unlock, error) {
	var unlock domain.Unlock
	err := s.read(func(st *state) error {
		u, ok := st.unlocks[id]
		if !ok {
			return domain.ErrUnlockNotFound
		}
		unlock = u
		return nil
	})
	return unlock, err
}

func (s *Store) ListUnlocks(_ context.Context) ([]domain.Unlock, error) {
	var out []domain.Unlock
	_ = s.read(func(st *state) error {
		for _, u := range st.unlocks {
			out = append(out, u)
		}
		return nil
	})
	sortUnlocks(out)
	return out, nil
}

func (s *Store) PlayerUnlocks(_ context.Context, playerID int64) ([]domain.Unlock, error) {
	var out []domain.Unlock
	_ = s.read(func(st *state) error {
		for id := range st.owned[playerID] {
			out = append(out, st.unlocks[id])
		}
		return nil
	})
	sortUnlocks(out)
	return out, nil
}

func sortUnlocks(unlocks []domain.Unlock) {
	sort.Slice(unlocks, func(i, j int) bool { return unlocks[i].ID < unlocks[j].ID })
}

func (s *Store) GrantUnlock(ctx context.Context, playerID, unlockID int64) (bool, error) {
	var granted bool
	err := s.write(ctx, func(st *state) error {
		if _, ok := st.players[playerID]; !ok {
			return domain.ErrPlayerNotFound
		}
		if _, ok := st.unlocks[unlockID]; !ok {
			return domain.ErrUnlockNotFound
		}
		set, ok := st.owned[playerID]
		if !ok {
			set = make(map[int64]struct{})
			st.owned[playerID] = set
		}
		if _, have := set[unlockID]; have {
			return nil
		}
		set[unlockID] = struct{}{}
		granted = true
		return nil
	})
	return granted, err
}

func (s *Store) SetSelectedUnlock(ctx context.Context, playerID, unlockID int64) error {
	return s.write(ctx, func(st *state) error {
		p, ok := st.players[playerID]
		if !ok {
			return domain.ErrPlayerNotFound
		}
		if _, ok := st.unlocks[unlockID]; !ok {
			return domain.ErrUnlockNotFound
		}
		id := unlockID
		p.SelectedUnlockID = &id
		st.players[playerID] = p
		return nil
	})
}

func (s *Store) CreateGame(ctx context.Context, game *domain.Game) error {
	return s.write(ctx, func(st *state) error {
		for _, g := range st.games {
			if g.Name == game.Name {
				return fmt.Errorf("%w: game %q already exists", domain.ErrConflict, game.Name)
			}
		}
		st.nextGameID++
		game.ID = st.nextGameID
		st.games[game.ID] = *game
		return nil
	})
}

func (s *Store) GetGame(_ context.Context, id int64) (domain.Game, error) {
	var game domain.Game
	err := s.read(func(st *state) error {
		g, ok := st.games[id]
		if !ok {
			return domain.ErrGameNotFound
		}
		game = g
		return nil
	})
	return game, err
}

func (s *Store) GetGameByName(_ context.Context, name string) (domain.Game, error) {
	var game domain.Game
	err := s.read(func(st *state) error {
		for _, g := range st.games {
			if g.Name == name {
				game = g
				return nil
			}
		}
		return domain.ErrGameNotFound
	})
	return game, err
}

func (s *Store) SetWinningScore(ctx context.Context, id int64, score int) error {
	return s.write(ctx, func(st *state) error {
		g, ok := st.games[id]
		if !ok {
			return domain.ErrGameNotFound
		}
		g.WinningScore = score
		st.games[id] = g
		return nil
	})
}

func (s *Store) CreateSession(ctx context.Context, session *domain.PlayerSession) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.players[session.PlayerID]; !ok {
			return domain.ErrPlayerNotFound
		}
		if _, ok := st.games[session.GameID]; !ok {
			return domain.ErrGameNotFound
		}
		st.nextSessionID++
		session.ID = st.nextSessionID
		st.sessions[session.ID] = *session
		return nil
	})
}

func (s *Store) GetSession(_ context.Context, id int64) (domain.PlayerSession, error) {
	var session domain.PlayerSession
	err := s.read(func(st *state) error {
		ps, ok := st.sessions[id]
		if !ok {
			return domain.ErrSessionNotFound
		}
		session = ps
		return nil
	})
	return session, err
}

func (s *Store) ActiveSession(_ context.Context, playerID int64) (domain.PlayerSession, error) {
	var session domain.PlayerSession
	err := s.read(func(st *state) error {
		for _, ps := range st.sessions {
			if ps.PlayerID == playerID && ps.Active() {
				session = ps
				return nil
			}
		}
		return domain.ErrNoActiveSession
	})
	return session, err
}

func (s *Store) CompareAndSetScore(ctx context.Context, sessionID int64, oldScore, newScore int) error {
	return s.write(ctx, func(st *state) error {
		ps, ok := st.sessions[sessionID]
		if !ok {
			return domain.ErrSessionNotFound
		}
		if !ps.Active() || ps.Score != oldScore {
			return domain.ErrScoreConflict
		}
		ps.Score = newScore
		st.sessions[sessionID] = ps
		return nil
	})
}

func (s *Store) CloseSession(ctx context.Context, sessionID int64, at time.Time) (bool, error) {
	var closed bool
	err := s.write(ctx, func(st *state) error {
		ps, ok := st.sessions[sessionID]
		if !ok {
			return domain.ErrSessionNotFound
		}
		if !ps.Active() {
			return nil
		}
		ps.EndedAt = &at
		st.sessions[sessionID] = ps
		closed = true
		return nil
	})
	return closed, err
}

func (s *Store) AbandonSession(ctx context.Context, sessionID int64, at time.Time) error {
	return s.write(ctx, func(st *state) error {
		ps, ok := st.sessions[sessionID]
		if !ok {
			return domain.ErrSessionNotFound
		}
		if !ps.Active() {
			return nil
		}
		ps.AbandonedAt = &at
		st.sessions[sessionID] = ps
		return nil
	})
}

func (s *Store) CompletedSessions(_ context.Context, q domain.SessionQuery) ([]domain.PlayerSession, error) {
	var out []domain.PlayerSession
	_ = s.read(func(st *state) error {
		for _, ps := range st.sessions {
			if matchesQuery(ps, q) {
				out = append(out, ps)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.EndedAt.Equal(*b.EndedAt) {
			if q.Ascending {
				return a.EndedAt.Before(*b.EndedAt)
			}
			return a.EndedAt.After(*b.EndedAt)
		}
		if q.Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matchesQuery(ps domain.PlayerSession, q domain.SessionQuery) bool {
	switch {
	case !ps.Completed():
		return false
	case q.PlayerID != 0 && ps.PlayerID != q.PlayerID:
		return false
	case q.GameID != 0 && ps.GameID != q.GameID:
		return false
	case q.Stage != 0 && ps.Stage != q.Stage:
		return false
	case q.From != nil && ps.EndedAt.Before(*q.From):
		return false
	case q.To != nil && ps.EndedAt.After(*q.To):
		return false
	}
	return true
}

func (s *Store) TopScores(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	var entries []domain.LeaderboardEntry
	_ = s.read(func(st *state) error {
		for _, ps := range st.sessions {
			if !ps.Completed() {
				continue
			}
			player, ok := st.players[ps.PlayerID]
			if !ok || player.ExcludeFromLeaderboard {
				continue
			}
			entries = append(entries, domain.LeaderboardEntry{
				PlayerID:  player.ID,
				SessionID: ps.ID,
				Name:      player.Name,
				Score:     ps.Score,
				EndedAt:   *ps.EndedAt,
			})
		}
		return nil
	})
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Score != b.Score:
			return a.Score > b.Score
		case !a.EndedAt.Equal(b.EndedAt):
			return a.EndedAt.After(b.EndedAt)
		case a.PlayerID != b.PlayerID:
			return a.PlayerID < b.PlayerID
		}
		return a.SessionID < b.SessionID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) AppendAnswer(ctx context.Context, answer *domain.Answer) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.sessions[answer.SessionID]; !ok {
			return domain.ErrSessionNotFound
		}
		for _, a := range st.answers {
			if a.SessionID == answer.SessionID && a.QuestionID == answer.QuestionID {
				return domain.ErrAlreadyAnswered
			}
		}
		st.nextAnswerID++
		answer.ID = st.nextAnswerID
		st.answers = append(st.answers, *answer)
		return nil
	})
}

func (s *Store) Ledger(_ context.Context, sessionID int64) ([]domain.LedgerEntry, error) {
	var answers []domain.Answer
	_ = s.read(func(st *state) error {
		for _, a := range st.answers {
			if a.SessionID == sessionID {
				answers = append(answers, a)
			}
		}
		return nil
	})

	s.qmu.Lock()
	defer s.qmu.Unlock()
	ledger := make([]domain.LedgerEntry, 0, len(answers))
	for _, a := range answers {
		q := s.questions[a.QuestionID]
		ledger = append(ledger, domain.LedgerEntry{Answer: a, Prompt: q.Text, CorrectAnswer: q.CorrectAnswer})
	}
	return ledger, nil
}

func (s *Store) AnswerCounts(_ context.Context, sessionIDs []int64) (map[int64]domain.AnswerCounts, error) {
	wanted := make(map[int64]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = struct{}{}
	}
	counts := make(map[int64]domain.AnswerCounts, len(sessionIDs))
	_ = s.read(func(st *state) error {
		for _, a := range st.answers {
			if _, ok := wanted[a.SessionID]; !ok {
				continue
			}
			c := counts[a.SessionID]
			if a.Correct {
				c.Correct++
			} else {
				c.Incorrect++
			}
			counts[a.SessionID] = c
		}
		return nil
	})
	return counts, nil
}

func (s *Store) GetQuestion(_ context.Context, id int64) (domain.Question, error) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (s *Store) RandomQuestion(_ context.Context, gameID int64, difficulty int, exclude []int64) (domain.Question, error) {
	skip := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	s.qmu.Lock()
	defer s.qmu.Unlock()
	var candidates []domain.Question
	for _, q := range s.questions {
		if q.GameID != gameID || q.Difficulty != difficulty {
			continue
		}
		if _, ok := skip[q.ID]; ok {
			continue
		}
		candidates = append(candidates, q)
	}
	if len(candidates) == 0 {
		return domain.Question{}, fmt.Errorf("%w: game %d difficulty %d", domain.ErrExhausted, gameID, difficulty)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[s.rnd.Intn(len(candidates))], nil
}

func (s *Store) ImportQuestions(_ context.Context, gameID int64, questions []domain.Question) (int, error) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	for _, q := range questions {
		s.nextQID++
		q.ID = s.nextQID
		q.GameID = gameID
		s.questions[q.ID] = q
	}
	return len(questions), nil
}

// CountQuestions reports how many questions a game holds at difficulty.
func (s *Store) CountQuestions(_ context.Context, gameID int64, difficulty int) (int, error) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	n := 0
	for _, q := range s.questions {
		if q.GameID == gameID && q.Difficulty == difficulty {
			n++
		}
	}
	return n, nil
}
