package asr

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Vocab maps token ids to SentencePiece pieces.
type Vocab struct {
	pieces []string
}

// LoadVocab reads a tokens.txt file.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asr: open vocab: %w", err)
	}
	defer f.Close()
	return ReadVocab(f)
}

// ReadVocab parses tokens.txt. Each line is either "<piece> <id>" or a
// bare piece whose id is its line number. The two forms may not be
// mixed.
func ReadVocab(r io.Reader) (*Vocab, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asr: read vocab: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("asr: empty vocab")
	}

	if _, _, ok := splitIDLine(lines[0]); !ok {
		return &Vocab{pieces: lines}, nil
	}

	v := &Vocab{}
	for i, line := range lines {
		if line == "" {
			continue
		}
		piece, id, ok := splitIDLine(line)
		if !ok {
			return nil, fmt.Errorf("asr: vocab line %d: want \"<piece> <id>\", got %q", i+1, line)
		}
		if id >= len(v.pieces) {
			v.pieces = append(v.pieces, make([]string, id+1-len(v.pieces))...)
		}
		v.pieces[id] = piece
	}
	return v, nil
}

func splitIDLine(line string) (string, int, bool) {
	i := strings.LastIndexByte(line, ' ')
	if i <= 0 {
		return "", 0, false
	}
	id, err := strconv.Atoi(line[i+1:])
	if err != nil || id < 0 {
		return "", 0, false
	}
	return line[:i], id, true
}

// NewVocab returns a Vocab from pieces indexed by id.
func NewVocab(pieces []string) *Vocab {
	return &Vocab{pieces: pieces}
}

// Size returns the number of ids.
func (v *Vocab) Size() int { return len(v.pieces) }

// Piece returns the piece for id, or "" when out of range.
func (v *Vocab) Piece(id int) string {
	if id < 0 || id >= len(v.pieces) {
		return ""
	}
	return v.pieces[id]
}

// IsSpecial reports whether id is a <|...|> control token.
func (v *Vocab) IsSpecial(id int) bool {
	p := v.Piece(id)
	return strings.HasPrefix(p, "<|") && strings.HasSuffix(p, "|>")
}

// Decode joins the pieces for ids into clean text.
func (v *Vocab) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(v.Piece(id))
	}
	return Clean(b.String())
}

var (
	specialRe = regexp.MustCompile(`<\|[^|]+\|>`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Clean turns raw decoded text into display text: word boundaries (▁)
// become spaces, control tokens are removed and whitespace is collapsed.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "▁", " ")
	s = specialRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
