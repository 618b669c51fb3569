package native

import (
	"testing"
	"time"
)

func TestSystemClock(t *testing.T) {
	c := SystemClock()

	t.Run("millis tracks wall clock", func(t *testing.T) {
		before := time.Now().UnixMilli()
		got := c.Millis()
		after := time.Now().UnixMilli()
		if got < before || got > after {
			t.Errorf("Millis: %d outside [%d, %d]", got, before, after)
		}
	})

	t.Run("nanos is monotonic enough", func(t *testing.T) {
		first := c.Nanos()
		second := c.Nanos()
		if second < first {
			t.Errorf("Nanos went backwards: %d then %d", first, second)
		}
	})
}
