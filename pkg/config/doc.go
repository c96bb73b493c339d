// Package config is the library's configuration layer, consumed by
// callers (cmd/scopinator-cli, mainly) to build a
// pkg/control.Config / pkg/imaging.Config from a YAML file and/or
// environment variables. pkg/control and pkg/imaging themselves never
// import this package — they only ever accept an already-populated
// Config struct, so a caller that doesn't want file or env handling can
// skip this package entirely.
package config
