// Package chunker splits award text into overlapping token-bounded pieces,
// the unit of embedding and semantic retrieval.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidConfig is returned for a non-positive size or an overlap that
// is negative or not smaller than the size.
var ErrInvalidConfig = errors.New("chunker: size must be > 0 and 0 <= overlap < size")

// Tokenizer determines token boundaries. The tokenizer is a property of the
// embedding provider, not of the splitter, so two providers may legitimately
// produce different chunkings of the same text.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Whitespace tokenizes on Unicode whitespace. It approximates the subword
// tokenizers used by hosted embedding models closely enough for sizing
// chunks, and is the default for every provider.
type Whitespace struct{}

// Tokenize implements Tokenizer.
func (Whitespace) Tokenize(text string) []string {
	return strings.Fields(text)
}

// Piece is one chunk of a split document body.
type Piece struct {
	Index      int
	Text       string
	TokenCount int
	Hash       string
}

// Splitter produces ordered overlapping chunks of at most size tokens,
// consecutive chunks sharing exactly overlap tokens.
type Splitter struct {
	tok     Tokenizer
	size    int
	overlap int
}

// NewSplitter validates the chunk geometry and returns a Splitter.
func NewSplitter(tok Tokenizer, size, overlap int) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidConfig
	}
	if tok == nil {
		tok = Whitespace{}
	}
	return &Splitter{tok: tok, size: size, overlap: overlap}, nil
}

// Split chunks text into pieces. Empty or whitespace-only input yields no
// pieces. Dropping the overlapping prefix of each non-first piece and
// concatenating reconstructs the token stream exactly.
func (s *Splitter) Split(text string) []Piece {
	tokens := s.tok.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	step := s.size - s.overlap
	var pieces []Piece
	for start := 0; ; start += step {
		end := start + s.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunkText := strings.Join(tokens[start:end], " ")
		pieces = append(pieces, Piece{
			Index:      len(pieces),
			Text:       chunkText,
			TokenCount: end - start,
			Hash:       Hash(chunkText),
		})
		if end == len(tokens) {
			break
		}
	}
	return pieces
}

// Hash returns the content hash of a chunk: sha256 over the normalized
// (whitespace-collapsed, lowercased) text. Identical text always produces
// the identical hash, which is what makes re-indexing idempotent.
func Hash(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
