// Package progress prints human-readable download events.
//
// The Reporter is registered as a download listener and writes one line per
// lifecycle event, plus throttled progress lines carrying transfer speed and
// ETA. The throttle interval is set by the namespace registry from the
// configured progress-report interval.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Output: os.Stderr})
//	handle.Listeners().AddListener(reporter)
//
// # Output Format
//
//	[fetchkit] started: disk.img (https://example.com/disk.img)
//	[fetchkit] disk.img: 45.2% | 1.1 GiB / 2.5 GiB | Speed: 12 MiB/s | ETA: 1m 52s
//	[fetchkit] completed: disk.img (2.5 GiB in 3m 30s)
package progress
