package storage

import (
	"sync/atomic"
	"time"

	"storyboard/domain"
)

var lastIssued atomic.Int64

// nextMarker returns a strictly increasing nanosecond marker. When the
// wall clock stalls or steps backwards the previous marker is bumped
// by one so no two mutations ever share a marker.
func nextMarker() domain.Marker {
	for {
		now := time.Now().UnixNano()
		prev := lastIssued.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastIssued.CompareAndSwap(prev, now) {
			return domain.Marker(now)
		}
	}
}
