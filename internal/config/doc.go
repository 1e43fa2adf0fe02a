// Package config defines the settings of a download namespace.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (FETCHKIT_ prefix)
//   - YAML configuration file
//
// # File format
//
//	namespace: media
//	concurrent_limit: 4
//	progress_interval: 1s
//	retry_on_network_gain: true
//	hash_checking: true
//	database_dir: /var/lib/fetchkit
//	temp_bucket: file:///var/tmp/fetchkit
//	output_dir: ./downloads
//	segment_size: 16MiB
//	network_type: unmetered
//	retry:
//	  attempts: 5
//	  backoff: 1s
//	  max_backoff: 30s
//
// Sizes accept IEC (KiB, MiB) and SI (KB, MB) suffixes. Durations use
// time.ParseDuration syntax.
package config
