package features

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MVN is a per-dimension affine normalisation, y = (x + Shift) * Scale,
// as shipped with SenseVoice and Paraformer models (am.mvn).
type MVN struct {
	Shift []float32
	Scale []float32
}

// Apply normalises frames in place.
func (m *MVN) Apply(frames [][]float32) {
	for _, fr := range frames {
		for i := range min(len(fr), len(m.Shift)) {
			fr[i] = (fr[i] + m.Shift[i]) * m.Scale[i]
		}
	}
}

// LoadMVN reads a Kaldi nnet text file containing <AddShift> and
// <Rescale> components.
func LoadMVN(path string) (*MVN, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("features: read mvn: %w", err)
	}
	return ParseMVN(data)
}

// ParseMVN parses the contents of an am.mvn file.
func ParseMVN(data []byte) (*MVN, error) {
	shift, err := mvnVector(data, "<AddShift>")
	if err != nil {
		return nil, err
	}
	scale, err := mvnVector(data, "<Rescale>")
	if err != nil {
		return nil, err
	}
	if len(shift) != len(scale) {
		return nil, fmt.Errorf("features: mvn shift has %d values, scale %d", len(shift), len(scale))
	}
	return &MVN{Shift: shift, Scale: scale}, nil
}

// mvnVector returns the first bracketed vector after marker.
func mvnVector(data []byte, marker string) ([]float32, error) {
	i := bytes.Index(data, []byte(marker))
	if i < 0 {
		return nil, fmt.Errorf("features: mvn: %s not found", marker)
	}
	rest := data[i:]
	open := bytes.IndexByte(rest, '[')
	end := bytes.IndexByte(rest, ']')
	if open < 0 || end < open {
		return nil, fmt.Errorf("features: mvn: no vector after %s", marker)
	}
	fields := strings.Fields(string(rest[open+1 : end]))
	out := make([]float32, len(fields))
	for j, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("features: mvn %s value %d: %w", marker, j, err)
		}
		out[j] = float32(v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("features: mvn: empty vector after %s", marker)
	}
	return out, nil
}
