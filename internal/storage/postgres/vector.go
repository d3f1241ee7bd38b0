package postgres

import (
	"strconv"
	"strings"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// vectorLiteral renders a pgvector input literal: [v1,v2,...]. Values travel
// as a plain text parameter cast in the statement; vector and halfvec share
// the same input format.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVectorLiteral reads a pgvector output literal back into a slice.
func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, common.E(common.KindInternal, "malformed vector literal")
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, common.WrapErr(common.KindInternal, err, "malformed vector literal")
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// checkDimension rejects vectors that don't match the column width before
// they reach the database.
func checkDimension(vec []float32) error {
	if len(vec) != models.EmbeddingDim {
		return common.Ef(common.KindValidation, "embedding has %d dimensions, expected %d", len(vec), models.EmbeddingDim)
	}
	return nil
}
