// Package http provides the retrying HTTP client used by file downloaders.
//
// This package handles:
//   - HEAD requests for size, ETag and range support
//   - Whole-body and ranged GETs with caller-supplied headers
//   - Retry with exponential backoff and jitter on network errors and 5xx
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    RetryAttempts: 5,
//	    Logger:        logger,
//	})
//
//	info, err := client.Head(ctx, url, nil)
//	// info.Size, info.ETag, info.AcceptsRanges
//
//	resp, err := client.GetRange(ctx, url, nil, startByte, endByte)
//	defer resp.Body.Close()
package http
