// Package ids generates entity identifiers.
package ids

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prefixes used for each entity kind.
const (
	PrefixPatient      = "PAT"
	PrefixAppointment  = "APT"
	PrefixPrescription = "RX"
	PrefixVisit        = "VIS"
)

// Generator issues ids of the form prefix-<epochMillis>-<seq>-<random>. The
// sequence is strictly increasing per generator, so ids issued within the
// same millisecond never collide.
type Generator struct {
	mu     sync.Mutex
	seq    uint64
	nowFn  func() time.Time
	randFn func() string
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(g *Generator) {
		if fn != nil {
			g.nowFn = fn
		}
	}
}

// WithRandom overrides the random suffix source.
func WithRandom(fn func() string) Option {
	return func(g *Generator) {
		if fn != nil {
			g.randFn = fn
		}
	}
}

// New constructs a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		nowFn:  time.Now,
		randFn: randomSuffix,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Next returns a new id. An empty prefix omits the leading "prefix-".
func (g *Generator) Next(prefix string) string {
	g.mu.Lock()
	g.seq++
	seq := g.seq
	g.mu.Unlock()

	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatInt(g.nowFn().UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(seq, 36))
	b.WriteByte('-')
	b.WriteString(g.randFn())
	return b.String()
}

// Legacy reproduces the prefix-<epochMillis> scheme found in older records.
// It offers no uniqueness guarantee: two calls in the same millisecond
// return the same id.
type Legacy struct {
	Now func() time.Time
}

// Next returns prefix-<epochMillis>, or the bare millisecond value when
// prefix is empty.
func (l Legacy) Next(prefix string) string {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	ms := strconv.FormatInt(now().UnixMilli(), 10)
	if prefix == "" {
		return ms
	}
	return prefix + "-" + ms
}
