// Package config loads and validates the YAML configuration of the
// signalfire command.
package config
