// Package chunk turns a paper's structured extraction into embeddable text chunks.
package chunk

import "fmt"

// Type identifies what part of a paper a chunk was derived from. The set is
// closed: adding a new chunk type means extending AllTypes and emitting it
// from Chunker.Chunk, which the tests make visible.
type Type string

const (
	TypeAbstract     Type = "abstract"
	TypeThesis       Type = "thesis"
	TypeContribution Type = "contribution"
	TypeMethodology  Type = "methodology"
	TypeFinding      Type = "finding"
	TypeClaim        Type = "claim"
	TypeLimitation   Type = "limitation"
	TypeFutureWork   Type = "future_work"
	TypeFullSummary  Type = "full_summary"
)

// AllTypes lists every valid chunk type, in the order chunks are generated.
var AllTypes = []Type{
	TypeAbstract,
	TypeThesis,
	TypeContribution,
	TypeMethodology,
	TypeFinding,
	TypeClaim,
	TypeLimitation,
	TypeFutureWork,
	TypeFullSummary,
}

// ParseType validates a chunk type string.
func ParseType(s string) (Type, error) {
	t := Type(s)
	for _, v := range AllTypes {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown chunk type %q", s)
}

// Valid reports whether t is a member of the closed chunk-type set.
func (t Type) Valid() bool {
	_, err := ParseType(string(t))
	return err == nil
}
