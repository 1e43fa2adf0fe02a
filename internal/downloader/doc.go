// Package downloader runs the HTTP downloads of a namespace.
//
// A Manager starts downloads up to a concurrency limit. Each download runs in
// its own goroutine:
//
//  1. HEAD the source for size and range support
//  2. fetch ranged segments in parallel into temp parts of a
//     storage.Resolver, or the whole body into a single part
//  3. concatenate the parts into the output file, verifying the sha256
//     checksum when hash checking is enabled
//  4. delete the temp parts and mark the record completed
//
// Segments whose part is already complete are skipped, so a re-queued
// download resumes where it stopped.
//
// # Usage
//
//	mgr, err := downloader.NewManager(downloader.Options{
//	    Namespace:       "media",
//	    ConcurrentLimit: 4,
//	    Coordinator:     downloader.NewCoordinator("media", logger),
//	    Updater:         downloader.NewInfoUpdater(db),
//	    Listener:        listeners.Dispatcher(),
//	    Network:         monitor,
//	    Storage:         resolver,
//	})
//
//	if mgr.CanAccommodate() {
//	    mgr.Start(record)
//	}
//
// # Interruption
//
// Cancel, Pause and Remove interrupt a running download through its context
// cause. Cancelled and paused records keep their temp parts. When a download
// fails while the network is down and RetryOnNetworkGain is set, its record
// goes back to queued instead of failed.
package downloader
