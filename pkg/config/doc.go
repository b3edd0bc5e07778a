// Package config loads application configuration from CREWSYNC_*
// environment variables. Every recognized option has a stated default;
// there are no hidden tunables.
package config
