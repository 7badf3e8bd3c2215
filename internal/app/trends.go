package app

import (
	"fmt"
	"math"
	"sort"
	"time"

	"math-quiz-service/internal/domain"
)

// periodKey buckets a session end time by ISO week or calendar month.
func periodKey(t time.Time, period domain.Period) string {
	t = t.UTC()
	if period == domain.PeriodMonth {
		return t.Format("2006-01")
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func periodLabel(start time.Time, period domain.Period) string {
	start = start.UTC()
	if period == domain.PeriodMonth {
		return start.Format("01/2006")
	}
	return start.Format("02/01/2006")
}

// bucketSessions groups completed sessions into trend buckets ordered by key.
func bucketSessions(sessions []domain.PlayerSession, counts map[int64]domain.AnswerCounts, period domain.Period) []domain.PeriodStats {
	type bucket struct {
		start, end time.Time
		games      int
		score      int
		answers    domain.AnswerCounts
	}
	buckets := make(map[string]*bucket)
	for _, s := range sessions {
		if s.EndedAt == nil {
			continue
		}
		ended := *s.EndedAt
		key := periodKey(ended, period)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{start: ended, end: ended}
			buckets[key] = b
		}
		if ended.Before(b.start) {
			b.start = ended
		}
		if ended.After(b.end) {
			b.end = ended
		}
		b.games++
		b.score += s.Score
		b.answers.Add(counts[s.ID])
	}

	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	stats := make([]domain.PeriodStats, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		stats = append(stats, domain.PeriodStats{
			Key:            key,
			Label:          periodLabel(b.start, period),
			StartDate:      b.start,
			EndDate:        b.end,
			TotalGames:     b.games,
			AvgScore:       average(b.score, b.games),
			SuccessRate:    successRate(b.answers),
			TotalCorrect:   b.answers.Correct,
			TotalIncorrect: b.answers.Incorrect,
		})
	}
	return stats
}

func summarizeRange(r domain.DateRange, sessions []domain.PlayerSession, counts map[int64]domain.AnswerCounts) domain.RangeStats {
	var (
		score   int
		answers domain.AnswerCounts
	)
	for _, s := range sessions {
		score += s.Score
		answers.Add(counts[s.ID])
	}
	return domain.RangeStats{
		DateRange:      r,
		TotalGames:     len(sessions),
		AvgScore:       average(score, len(sessions)),
		SuccessRate:    successRate(answers),
		TotalCorrect:   answers.Correct,
		TotalIncorrect: answers.Incorrect,
		TotalAnswers:   answers.Total(),
	}
}

func compareRanges(p1, p2 domain.RangeStats) domain.PeriodComparison {
	return domain.PeriodComparison{
		Period1: p1,
		Period2: p2,
		Difference: domain.StatsDelta{
			AvgScore:    round2(p2.AvgScore - p1.AvgScore),
			SuccessRate: round2(p2.SuccessRate - p1.SuccessRate),
			TotalGames:  p2.TotalGames - p1.TotalGames,
		},
	}
}

// successRate is a percentage rounded to two decimals; 0 when nothing was answered.
func successRate(c domain.AnswerCounts) float64 {
	if c.Total() == 0 {
		return 0
	}
	return round2(float64(c.Correct) / float64(c.Total()) * 100)
}

func average(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return round2(float64(sum) / float64(n))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
