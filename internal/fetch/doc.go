// Package fetch owns the per-namespace subsystem graphs of the download
// engine.
//
// A Registry builds the graph of a namespace on its first Acquire and shares
// it with every later holder. The graph lives until the last holder releases
// it, at which point it is torn down in a fixed order:
//
//  1. close the executor
//  2. clear the listeners
//  3. clear the group cache
//  4. close the database
//  5. interrupt and forget running downloads
//  6. unregister network listeners
//
// Between steps 5 and 6 teardown waits for the interrupted downloads to
// return and stops the scheduler, so no goroutine of the graph outlives
// Release. Temp storage opened from the configured bucket URL is closed last.
//
// Typical use:
//
//	reg := fetch.NewRegistry(fetch.WithLogger(logger))
//	err := fetch.With(reg, "media", fetch.NewConfiguration("media"), func(h *fetch.Handle) error {
//		return h.Manager().Enqueue(database.NewDownload("media", url, file))
//	})
package fetch
