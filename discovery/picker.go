package discovery

import (
	"math/rand"
	"sync"
	"time"
)

// Picker chooses one of n agents.
type Picker interface {
	Pick(n int) int
}

type randomPicker struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomPicker returns a Picker choosing uniformly at random. A nil source
// seeds from the clock; tests pass rand.NewSource(seed) for repeatable runs.
// The returned Picker is safe for concurrent use.
func NewRandomPicker(src rand.Source) Picker {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &randomPicker{r: rand.New(src)}
}

func (p *randomPicker) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r.Intn(n)
}
