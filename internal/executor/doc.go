// Package executor provides the serial execution context shared by every
// subsystem of one namespace.
//
// An Executor runs posted tasks one at a time on a dedicated goroutine, in
// the order they were posted. It also carries the usage counter that the
// namespace registry uses to decide when the namespace can be torn down.
//
// # Usage
//
//	ex := executor.New("downloads", logger)
//	ex.IncrementUsageCounter()
//	ex.Post(func() {
//	    // runs on the executor goroutine
//	})
//
//	if ex.DecrementUsageCounter() == 0 {
//	    ex.Close()
//	}
package executor
