// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// A minimal local setup needs only an instance ID:
//
//	instance:
//	  id: front-desk-1
//	store:
//	  driver: sqlite
//	  sqlite_path: housekeeping.db
//
// Postgres deployments set store.driver to postgres, fill database.postgres,
// and get LISTEN/NOTIFY change delivery by default.
package config
