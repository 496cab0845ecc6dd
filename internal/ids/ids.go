// Package ids generates sortable identifiers for audit events and requests.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonic ULIDs. The zero value is not usable; use NewGenerator.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator returns a generator reading entropy from r (crypto/rand when nil).
func NewGenerator(r io.Reader, now func() time.Time) *Generator {
	if r == nil {
		r = rand.Reader
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: ulid.Monotonic(r, 0), now: now}
}

// New returns the next identifier. Identifiers from one generator sort in issue order.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var std = NewGenerator(nil, nil)

// New returns an identifier from the process-wide generator.
func New() string {
	return std.New()
}
