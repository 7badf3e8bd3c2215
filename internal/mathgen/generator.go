// Package mathgen produces arithmetic questions graded by difficulty.
package mathgen

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"math-quiz-service/internal/domain"
)

// Generator builds random questions. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator seeds a generator. A zero seed uses the current time.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Question returns one question at difficulty. Difficulties above the
// hardest tier reuse it.
func (g *Generator) Question(difficulty int) domain.Question {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.question(difficulty)
}

// Batch returns up to n questions at difficulty with distinct prompts.
func (g *Generator) Batch(difficulty, n int) []domain.Question {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]struct{}, n)
	out := make([]domain.Question, 0, n)
	for attempts := 0; len(out) < n && attempts < n*20; attempts++ {
		q := g.question(difficulty)
		if _, dup := seen[q.Text]; dup {
			continue
		}
		seen[q.Text] = struct{}{}
		out = append(out, q)
	}
	return out
}

func (g *Generator) question(difficulty int) domain.Question {
	if difficulty < 1 {
		difficulty = 1
	}
	var a, b, answer int
	var op string
	switch difficulty {
	case 1:
		a, b = g.rnd.Intn(10), g.rnd.Intn(10)
		op, answer = "+", a+b
	case 2:
		a, b, op, answer = g.addSub(20)
	case 3:
		a, b, op, answer = g.addSub(100)
	case 4:
		a, b = 2+g.rnd.Intn(9), 2+g.rnd.Intn(9)
		op, answer = "×", a*b
	default:
		x, y := 1+g.rnd.Intn(12), 1+g.rnd.Intn(12)
		if g.rnd.Intn(2) == 0 {
			a, b, op, answer = x, y, "×", x*y
		} else {
			a, b, op, answer = x*y, y, "÷", x
		}
	}
	return domain.Question{
		Text:          fmt.Sprintf("%d %s %d", a, op, b),
		CorrectAnswer: answer,
		Difficulty:    difficulty,
		ExtraData:     map[string]any{"operation": operationName(op)},
	}
}

// addSub yields an addition with sum <= limit or a subtraction with a
// non-negative result.
func (g *Generator) addSub(limit int) (a, b int, op string, answer int) {
	if g.rnd.Intn(2) == 0 {
		a = g.rnd.Intn(limit + 1)
		b = g.rnd.Intn(limit - a + 1)
		return a, b, "+", a + b
	}
	a = g.rnd.Intn(limit + 1)
	b = g.rnd.Intn(a + 1)
	return a, b, "-", a - b
}

func operationName(op string) string {
	switch op {
	case "+":
		return "addition"
	case "-":
		return "subtraction"
	case "×":
		return "multiplication"
	default:
		return "division"
	}
}
