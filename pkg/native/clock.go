package native

import "time"

// Clock supplies the implementations behind System.currentTimeMillis
// and System.nanoTime. The host offers these to agents through the
// native bind hook before first use, so either function may be swapped.
type Clock struct {
	Millis func() int64
	Nanos  func() int64
}

// SystemClock returns a Clock backed by the host's real time.
func SystemClock() Clock {
	return Clock{
		Millis: func() int64 { return time.Now().UnixMilli() },
		Nanos:  func() int64 { return time.Now().UnixNano() },
	}
}
