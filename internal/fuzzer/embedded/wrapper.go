package embedded

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// CrashRecord captures one faulting invocation of the target.
type CrashRecord struct {
	Iteration int64
	Input     []byte
	Message   string
	Stack     string
}

// wrappedTarget is the sole mutation point for execution counters and crash
// capture. The engine calls Run sequentially within one run; the counter is
// atomic so the stats goroutine can read it concurrently.
type wrappedTarget struct {
	fn         TargetFunc
	executions atomic.Int64
	crashCount atomic.Int64
	crashes    []CrashRecord
}

func newWrappedTarget(fn TargetFunc) *wrappedTarget {
	return &wrappedTarget{fn: fn}
}

// Run invokes the entry point once. A panic is recorded as a CrashRecord
// and then re-raised so the driving engine sees the fault.
func (w *wrappedTarget) Run(data []byte) {
	iteration := w.executions.Add(1)
	defer func() {
		if r := recover(); r != nil {
			input := make([]byte, len(data))
			copy(input, data)
			w.crashes = append(w.crashes, CrashRecord{
				Iteration: iteration,
				Input:     input,
				Message:   fmt.Sprint(r),
				Stack:     string(debug.Stack()),
			})
			w.crashCount.Add(1)
			panic(r)
		}
	}()
	w.fn(data)
}

func (w *wrappedTarget) Executions() int64 {
	return w.executions.Load()
}

func (w *wrappedTarget) CrashCount() int64 {
	return w.crashCount.Load()
}
