// Package config provides configuration loading and validation for the
// streaming transcription client. It handles YAML-based configuration with
// struct validation covering backend connection, audio chunking, voice
// gating, session lifecycle, and quality benchmark parameters.
package config
