package captcha

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	// AnswerEpsilon is the tolerance used when comparing a submitted
	// answer against the stored one.
	AnswerEpsilon = 1e-6

	minOptionGap = 0.1
	minOptionAbs = 0.01
	maxOptionAbs = 100.0

	maxGenerateRetries = 100
	maxOptionRetries   = 100

	DifficultyEasy   = 1
	DifficultyMedium = 2
	DifficultyHard   = 3
)

// primeTable holds the primes puzzles draw from. Difficulty trims it:
// easy stops at 13, medium at 43, hard uses the full table.
var primeTable = []int{
	2, 3, 5, 7, 11, 13,
	17, 19, 23, 29, 31, 37, 41, 43,
	47, 53, 59, 61, 67, 71, 73, 79, 83, 89, 97,
}

const (
	easyPrimeCount   = 6
	mediumPrimeCount = 14
)

// Generator produces challenges from its own rand source. It is not
// safe for concurrent use; callers serialize per user.
type Generator struct {
	rng        *rand.Rand
	difficulty int
}

// New returns a Generator seeded with seed. difficulty outside 1..3 is
// clamped.
func New(seed int64, difficulty int) *Generator {
	if difficulty < DifficultyEasy {
		difficulty = DifficultyEasy
	}
	if difficulty > DifficultyHard {
		difficulty = DifficultyHard
	}
	return &Generator{
		rng:        rand.New(rand.NewSource(seed)),
		difficulty: difficulty,
	}
}

// SetDifficulty changes the difficulty for subsequent challenges.
func (g *Generator) SetDifficulty(difficulty int) {
	if difficulty < DifficultyEasy || difficulty > DifficultyHard {
		return
	}
	g.difficulty = difficulty
}

// Generate builds a fresh challenge whose question differs from
// prevQuestion, so a retry never shows the identical puzzle twice in a
// row. The retry budget is bounded; on exhaustion the last candidate is
// returned as-is.
func (g *Generator) Generate(prevQuestion string) Challenge {
	var ch Challenge
	for i := 0; i < maxGenerateRetries; i++ {
		ch = g.generateOnce()
		if ch.Question != prevQuestion {
			return ch
		}
	}
	return ch
}

func (g *Generator) generateOnce() Challenge {
	var (
		kind     Kind
		question string
		answer   float64
		nearMiss []float64
	)
	switch g.rng.Intn(3) {
	case 0:
		kind = KindFraction
		question, answer, nearMiss = g.fractionPuzzle()
	case 1:
		kind = KindExponent
		question, answer, nearMiss = g.exponentPuzzle()
	default:
		kind = KindRoot
		question, answer, nearMiss = g.rootPuzzle()
	}
	return Challenge{
		Kind:     kind,
		Question: question,
		Answer:   answer,
		Options:  g.buildOptions(answer, nearMiss),
	}
}

func (g *Generator) primes() []int {
	switch g.difficulty {
	case DifficultyEasy:
		return primeTable[:easyPrimeCount]
	case DifficultyMedium:
		return primeTable[:mediumPrimeCount]
	default:
		return primeTable
	}
}

// fractionPuzzle asks for p/q with p, q distinct primes. Distinct
// primes are already in lowest terms.
func (g *Generator) fractionPuzzle() (string, float64, []float64) {
	table := g.primes()
	p := table[g.rng.Intn(len(table))]
	q := p
	for q == p {
		q = table[g.rng.Intn(len(table))]
	}
	answer := round2(float64(p) / float64(q))
	question := fmt.Sprintf("%d/%d", p, q)
	nearMiss := []float64{
		round2(float64(q) / float64(p)),
		round2(-float64(p) / float64(q)),
	}
	return question, answer, nearMiss
}

// exponentPuzzle asks for b^e with |b| >= 2 and e in {-3,-2,2,3}. Base
// magnitude is capped so the answer stays inside the option bounds for
// every exponent.
func (g *Generator) exponentPuzzle() (string, float64, []float64) {
	exponents := []int{-3, -2, 2, 3}
	e := exponents[g.rng.Intn(len(exponents))]

	maxBase := 9
	if e == 3 || e == -3 {
		// 4^3 = 64 stays under 100; 1/4^3 stays above 0.01.
		maxBase = 4
	}
	b := 2 + g.rng.Intn(maxBase-1)
	if g.rng.Intn(2) == 0 {
		b = -b
	}

	answer := round2(math.Pow(float64(b), float64(e)))
	var question string
	if b < 0 {
		question = fmt.Sprintf("(%d)^%d", b, e)
	} else {
		question = fmt.Sprintf("%d^%d", b, e)
	}
	nearMiss := []float64{
		-answer,
		round2(math.Pow(float64(b), float64(e+1))),
		round2(math.Pow(float64(b), float64(e-1))),
	}
	return question, answer, nearMiss
}

// rootPuzzle asks for c*sqrt(n) with n a prime radicand. Primes above 3
// are never perfect squares; the explicit check keeps the invariant
// visible if the table ever changes.
func (g *Generator) rootPuzzle() (string, float64, []float64) {
	table := g.primes()
	n := table[g.rng.Intn(len(table))]
	for isPerfectSquare(n) {
		n = table[g.rng.Intn(len(table))]
	}
	c := 1 + g.rng.Intn(3)

	answer := round2(float64(c) * math.Sqrt(float64(n)))
	var question string
	if c == 1 {
		question = fmt.Sprintf("√%d", n)
	} else {
		question = fmt.Sprintf("%d√%d", c, n)
	}
	nearMiss := []float64{
		-answer,
		round2(float64(c+1) * math.Sqrt(float64(n))),
		round2(float64(c) * math.Sqrt(float64(n+1))),
	}
	return question, answer, nearMiss
}

// buildOptions assembles the answer plus three distractors, preferring
// the kind-specific near misses, then random offsets. Options keep a
// minimum pairwise gap and stay inside the magnitude bounds where the
// answer itself allows it.
func (g *Generator) buildOptions(answer float64, nearMiss []float64) []float64 {
	options := []float64{answer}
	for _, cand := range nearMiss {
		if len(options) == OptionCount {
			break
		}
		if optionFits(options, cand) {
			options = append(options, cand)
		}
	}
	for i := 0; len(options) < OptionCount; i++ {
		var cand float64
		if i < maxOptionRetries {
			cand = round2(answer + (g.rng.Float64()*2 - 1))
		} else {
			// Deterministic fallback after the random budget.
			cand = round2(answer + 0.5*float64(i-maxOptionRetries+1))
		}
		if optionFits(options, cand) {
			options = append(options, cand)
		}
	}
	g.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return options
}

func optionFits(existing []float64, cand float64) bool {
	if math.Abs(cand) < minOptionAbs || math.Abs(cand) > maxOptionAbs {
		return false
	}
	for _, v := range existing {
		if math.Abs(v-cand) < minOptionGap {
			return false
		}
	}
	return true
}

// Matches reports whether a submitted value hits the stored answer
// within tolerance.
func Matches(answer, submitted float64) bool {
	return math.Abs(answer-submitted) < AnswerEpsilon
}

func isPerfectSquare(n int) bool {
	if n < 0 {
		return false
	}
	r := int(math.Sqrt(float64(n)))
	return r*r == n || (r+1)*(r+1) == n
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
