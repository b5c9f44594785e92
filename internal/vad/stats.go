package vad

import "sync/atomic"

type counters struct {
	frames       atomic.Uint64
	fastRejected atomic.Uint64
	classified   atomic.Uint64
	failedOpen   atomic.Uint64
}
