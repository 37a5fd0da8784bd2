package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out batch IDs that are unique and monotonic for the process lifetime.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-batch-%d", sessionID, n)
}
