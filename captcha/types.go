// Package captcha generates small arithmetic puzzles used for human
// verification. Generation is pure and deterministic for a given seed.
package captcha

// Kind identifies the shape of a puzzle.
type Kind string

const (
	KindFraction Kind = "fraction"
	KindExponent Kind = "exponent"
	KindRoot     Kind = "root"
)

// OptionCount is the fixed number of answer options per challenge.
const OptionCount = 4

// Challenge is a single puzzle presented to a user. Answer and Options
// are canonical 2-decimal values. MessageID records the chat message
// the challenge was rendered into, so retries can edit it in place.
type Challenge struct {
	Kind      Kind      `json:"kind"`
	Question  string    `json:"question"`
	Answer    float64   `json:"answer"`
	Options   []float64 `json:"options"`
	MessageID int64     `json:"message_id,omitempty"`
}
