package resource

import (
	"code.hybscloud.com/atomix"
)

// counter is the single source of handles in the process. Every table of
// every context draws from it, so a handle issued by one context can never
// resolve in another.
var counter atomix.Uint64

// Next returns a handle never returned before in this process.
// Safe for concurrent use.
func Next() Handle {
	n := counter.Add(1)
	if n > 1<<63-1 {
		panic("resource: handle space exhausted")
	}
	return Handle(n)
}

// Allocated returns how many handles have been handed out in this process.
func Allocated() uint64 {
	return counter.Load()
}
