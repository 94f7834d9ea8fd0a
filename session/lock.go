package session

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

type (
	// stripes serializes work on the same session id without keeping
	// one mutex per session around.
	stripes [256]sync.Mutex
)

func (s *stripes) lock(id string) func() {
	m := &s[xxhash.Sum64String(id)%uint64(len(s))]
	m.Lock()
	return m.Unlock
}
