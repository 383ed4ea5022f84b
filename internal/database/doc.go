// Package database builds PostgreSQL connection strings and pools.
//
// A single pool backs the postgres room store and the change journal. The
// LISTEN/NOTIFY feed opens its own dedicated connection from the same
// connection string, since a pooled connection cannot hold a LISTEN.
package database
