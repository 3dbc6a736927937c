// Package config loads the solagentd configuration document (YAML or JSON),
// fills defaults and validates drivers, dialects and cross references.
package config
