// Package stats has two consumers with different needs: the prometheus
// Collector (prometheus.go) feeds a live scrape endpoint, while the
// Counter_t/Cycles_t types here are compiled-out-by-default in-process
// counters for printf-style performance debugging. Flip Stats/Timing to
// true to pay for them.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Stats gates the event counters; Timing gates the cycle counters.
const Stats = false
const Timing = false

// Rdtsc returns a monotonic cycle-equivalent counter when timing is
// enabled. The real timestamp-counter instruction is a trap-layer
// concern out of scope for this host simulation, so elapsed nanoseconds
// stand in for elapsed cycles -- Cycles_t deltas are only ever compared
// to each other, never to a real clock rate.
func Rdtsc() uint64 {
	if Timing {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

// Counter_t counts events.
type Counter_t int64

// Cycles_t accumulates elapsed "cycles" between an Rdtsc sample and the
// Add call.
type Cycles_t int64

// Inc counts one event.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add charges the cycles elapsed since m, an earlier Rdtsc sample.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(Rdtsc()-m))
	}
}

// Stats2String walks a struct of Counter_t/Cycles_t fields by
// reflection and renders each as a "#name: value" line, so a subsystem
// can dump its whole counter block without naming every field.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
