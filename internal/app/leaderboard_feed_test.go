package app_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-quiz-service/internal/app"
	"math-quiz-service/internal/domain"
)

func TestFeedSlowSubscriberKeepsLatest(t *testing.T) {
	feed := app.NewLeaderboardFeed()
	ch, cancel := feed.Subscribe(domain.Leaderboard{})
	defer cancel()

	// Far more publishes than the buffer holds must not block.
	for i := 1; i <= 50; i++ {
		feed.Publish(domain.Leaderboard{Entries: []domain.LeaderboardEntry{{Score: i}}})
	}

	var last domain.Leaderboard
	for len(ch) > 0 {
		last = <-ch
	}
	require.Len(t, last.Entries, 1)
	assert.Equal(t, 50, last.Entries[0].Score)
}

func TestFeedCancelDetaches(t *testing.T) {
	feed := app.NewLeaderboardFeed()
	ch, cancel := feed.Subscribe(domain.Leaderboard{})
	assert.Equal(t, 1, feed.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, feed.Subscribers())

	<-ch // initial snapshot
	_, open := <-ch
	assert.False(t, open)

	feed.Publish(domain.Leaderboard{})
}
