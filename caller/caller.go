// Package caller prints call-site diagnostics for crash paths.
package caller

import (
	"fmt"
	"runtime"
)

// Callerdump prints the call chain leading to the caller, one frame per
// line, starting start frames up the stack. Used by the process crash
// handler so a recovered panic still says where it came from.
func Callerdump(start int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(start+1, pcs)
	if n == 0 {
		return
	}
	frames := runtime.CallersFrames(pcs[:n])
	first := true
	for {
		fr, more := frames.Next()
		if first {
			fmt.Printf("%s:%d\n", fr.File, fr.Line)
			first = false
		} else {
			fmt.Printf("\t<-%s:%d\n", fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
}
