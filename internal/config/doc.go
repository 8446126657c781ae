// Package config loads, normalizes, and validates curator's TOML
// configuration. The resulting Config struct is passed explicitly to every
// component at construction time.
package config
