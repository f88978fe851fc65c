// Package config provides configuration loading and validation for the
// transcription pipeline. It layers YAML files over built-in defaults and
// validates every section before the service starts.
package config
