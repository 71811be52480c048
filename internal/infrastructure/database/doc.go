// Package database provides the SQLite connection layer for Carousel Core.
//
// It wraps database/sql with WAL-mode configuration, a single-writer
// connection pool suited to SQLite, health checks, and an embedded
// migration runner. The carousel state store and the entity repositories
// all build on this package.
package database
