// Package config loads and validates service configuration.
//
// Configuration comes from a YAML file with environment-variable
// overrides for every operational key. Struct-level validation runs
// after merging, and a watcher re-loads tunables when the file changes
// on disk.
package config
