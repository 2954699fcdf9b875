// Package ingest defines the types and narrow interfaces shared by the
// discovery, queue, batch processing, and decay monitoring subsystems.
package ingest
