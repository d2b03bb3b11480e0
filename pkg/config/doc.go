// Package config loads and validates openmend configuration. Configuration
// is plain YAML validated with struct tags, watched for changes with
// fsnotify, and extended by optional Starlark hooks for method probability
// scoring.
package config
