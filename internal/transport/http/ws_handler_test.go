package http

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"math-quiz-service/internal/domain"
)

func TestLeaderboardSocketStreamsUpdates(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first, err := env.players.Signup(ctx, "gus", 11, "password")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	u := "ws" + env.server.URL[len("http"):] + "/ws/leaderboard?limit=1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msgType, board := readLeaderboard(conn, t)
	if msgType != "leaderboard" {
		t.Fatalf("expected leaderboard, got %s", msgType)
	}
	if len(board.Entries) != 0 {
		t.Fatalf("expected empty initial board, got %d entries", len(board.Entries))
	}

	finishSession(t, env, first.ID)

	_, board = readLeaderboard(conn, t)
	if len(board.Entries) != 1 || board.Entries[0].Name != "gus" {
		t.Fatalf("expected gus on the board, got %+v", board.Entries)
	}

	second, err := env.players.Signup(ctx, "hal", 12, "password")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	finishSession(t, env, second.ID)

	_, board = readLeaderboard(conn, t)
	if len(board.Entries) != 1 {
		t.Fatalf("expected snapshot trimmed to 1 entry, got %d", len(board.Entries))
	}
}

func finishSession(t *testing.T, env *testEnv, playerID int64) {
	t.Helper()
	ctx := context.Background()
	stage := 1
	started, err := env.games.StartSession(ctx, playerID, env.game.ID, &stage)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	question := *started.Question
	for {
		answer := question.CorrectAnswer
		result, err := env.games.SubmitAnswer(ctx, playerID, question.ID, &answer)
		if err != nil {
			t.Fatalf("answer: %v", err)
		}
		if result.SessionComplete {
			return
		}
		question = *result.NextQuestion
	}
}

func readLeaderboard(conn *websocket.Conn, t *testing.T) (string, domain.Leaderboard) {
	t.Helper()
	var msg outboundMessage[domain.Leaderboard]
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg.Type, msg.Payload
}
