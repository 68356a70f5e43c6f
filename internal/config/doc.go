// Package config defines configuration for the parfetch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (PARFETCH_ prefix)
//   - YAML configuration file
//
// Sizes accept human-readable values ("4MiB", "1MB"); durations use
// time.ParseDuration syntax. Later sources override earlier ones through
// Merge, and Validate runs go-playground/validator rules over the result.
//
// # Example file
//
//	url: https://example.com/image.iso
//	connections: 16
//	chunk_size: 4MiB
//	progress: text
//	publish:
//	  bucket: s3://my-bucket?region=us-east-1
//	retry:
//	  attempts: 3
//	  backoff: 500ms
package config
