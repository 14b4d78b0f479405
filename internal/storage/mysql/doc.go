// Package mysql provides repositories backed by MySQL. It encapsulates
// connection pooling, schema migrations, and strongly typed queries for
// persisting queued governance votes across daemon restarts.
package mysql
