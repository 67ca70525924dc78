// Package config handles configuration loading for srpgate.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from the SRPGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/srpgate/gateway.yaml (~/.config when unset)
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// # Environment
//
// Values can reference environment variables, which are expanded before
// parsing:
//
//	auth:
//	  jwt_secret: "${SRPGATE_JWT_SECRET}"
//
// After the file is decoded, SRPGATE_<SECTION>_<KEY> variables override it,
// e.g. SRPGATE_HANDSHAKE_CONCURRENT_LOGIN=reject. A .env file can seed the
// environment through LoadDotEnv.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	handshake:
//	  session_ttl: "2m"
//	  lookup_timeout: "5s"
package config
