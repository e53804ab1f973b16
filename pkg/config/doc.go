// Package config loads and validates the daemon configuration.
//
// Configuration comes from a YAML file, with ZK_* environment variables
// overriding individual fields. The result is immutable after Load;
// validation failures are fatal, the sync loop never starts on a bad
// schedule.
//
// The terminal password may be given inline (development) or through a
// sealed credentials file encrypted with a passphrase-derived key.
package config
