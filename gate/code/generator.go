package code

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

var (
	ErrInvalidPolicy = errors.New("invalid code policy")
	ErrEmptyAlphabet = fmt.Errorf("%w: alphabet must not be empty", ErrInvalidPolicy)
	ErrInvalidLength = fmt.Errorf("%w: length must be between 1 and %d", ErrInvalidPolicy, MaxLength)
	ErrEmptyCode     = fmt.Errorf("%w: fixed code must be non-empty and carry no surrounding whitespace", ErrInvalidPolicy)
	ErrUnknownKind   = fmt.Errorf("%w: unknown kind", ErrInvalidPolicy)
)

// MaxLength caps random codes; anything longer is not human-enterable.
const MaxLength = 64

// Kind selects how codes are produced
type Kind string

const (
	KindFixed  Kind = "fixed"
	KindRandom Kind = "random"
)

// ParseKind maps a configured type name to a Kind. "custom" is accepted as an
// alias of fixed.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "custom":
		return KindFixed, nil
	case "random", "":
		return KindRandom, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

// Policy is the rule used to produce verification codes
type Policy struct {
	Kind     Kind
	Code     string // fixed only
	Alphabet string // random only
	Length   int    // random only
}

// Fixed returns a policy that always yields code
func Fixed(code string) Policy {
	return Policy{Kind: KindFixed, Code: code}
}

// Random returns a policy drawing length runes from alphabet
func Random(alphabet string, length int) Policy {
	return Policy{Kind: KindRandom, Alphabet: alphabet, Length: length}
}

// Validate reports whether the policy can produce codes
func (p Policy) Validate() error {
	switch p.Kind {
	case KindFixed:
		if p.Code == "" || strings.TrimSpace(p.Code) != p.Code {
			return ErrEmptyCode
		}
	case KindRandom:
		if p.Alphabet == "" {
			return ErrEmptyAlphabet
		}
		if p.Length < 1 || p.Length > MaxLength {
			return ErrInvalidLength
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, p.Kind)
	}
	return nil
}

// Generator produces codes for a validated policy. It holds no mutable state
// and is safe for concurrent use.
type Generator struct {
	policy   Policy
	alphabet []rune
	size     *big.Int
}

// NewGenerator validates the policy and returns a generator for it
func NewGenerator(policy Policy) (*Generator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{policy: policy}
	if policy.Kind == KindRandom {
		g.alphabet = []rune(policy.Alphabet)
		g.size = big.NewInt(int64(len(g.alphabet)))
	}
	return g, nil
}

// Policy returns the policy the generator was built from
func (g *Generator) Policy() Policy {
	return g.policy
}

// Generate returns a new code. Random codes draw every rune independently and
// uniformly from the alphabet using crypto/rand.
func (g *Generator) Generate() (string, error) {
	if g.policy.Kind == KindFixed {
		return g.policy.Code, nil
	}

	var b strings.Builder
	b.Grow(g.policy.Length)
	for i := 0; i < g.policy.Length; i++ {
		n, err := rand.Int(rand.Reader, g.size)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b.WriteRune(g.alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Keyspace returns the number of distinct codes the policy can produce.
// Comparison is case-insensitive, so letters differing only in case count once.
func (g *Generator) Keyspace() float64 {
	if g.policy.Kind == KindFixed {
		return 1
	}
	distinct := make(map[string]struct{}, len(g.alphabet))
	for _, r := range g.alphabet {
		distinct[strings.ToLower(string(r))] = struct{}{}
	}
	return math.Pow(float64(len(distinct)), float64(g.policy.Length))
}

// GuessProbability is the chance of hitting a random code by blind guessing
// within the given number of attempts.
func (g *Generator) GuessProbability(attempts int) float64 {
	if attempts <= 0 {
		return 0
	}
	p := float64(attempts) / g.Keyspace()
	if p > 1 {
		return 1
	}
	return p
}
