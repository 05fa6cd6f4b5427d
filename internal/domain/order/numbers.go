package order

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Sequence hands out increasing numbers per key.
type Sequence interface {
	Next(ctx context.Context, key string) (int64, error)
}

// NumberGenerator renders custom order numbers from a mask. Supported
// tokens: {YYYY} {YY} {MM} {DD} {ID} {SEQ}. {SEQ} restarts every year.
type NumberGenerator struct {
	mask string
	seq  Sequence
}

// NewNumberGenerator creates a NumberGenerator. An empty mask yields the
// order id.
func NewNumberGenerator(mask string, seq Sequence) *NumberGenerator {
	return &NumberGenerator{mask: strings.TrimSpace(mask), seq: seq}
}

// Generate returns the custom number for the order id placed at.
func (g *NumberGenerator) Generate(ctx context.Context, id string, at time.Time) (string, error) {
	if g == nil || g.mask == "" {
		return id, nil
	}
	at = at.UTC()

	out := strings.NewReplacer(
		"{YYYY}", at.Format("2006"),
		"{YY}", at.Format("06"),
		"{MM}", at.Format("01"),
		"{DD}", at.Format("02"),
		"{ID}", id,
	).Replace(g.mask)

	if strings.Contains(out, "{SEQ}") {
		if g.seq == nil {
			return "", errors.New("mask uses {SEQ} but no sequence is configured")
		}
		n, err := g.seq.Next(ctx, "order-number:"+at.Format("2006"))
		if err != nil {
			return "", errors.Wrap(err, "next order sequence")
		}
		out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(n, 10))
	}
	return out, nil
}
