// Package config loads the ContentFlow daemon configuration from a YAML or
// JSON file, fills defaults for every orchestration knob and resolves secrets
// from environment variables named by the *_env fields.
package config
