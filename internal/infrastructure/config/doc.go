// Package config loads and validates Carousel Core configuration.
//
// Configuration comes from a single YAML file with environment variable
// overrides for deployment-specific values (paths, endpoints, credentials).
// Defaults are applied before the file is parsed, so a minimal config file
// only needs to state what differs from the defaults.
package config
