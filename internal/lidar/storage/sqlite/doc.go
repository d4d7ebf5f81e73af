// Package sqlite contains SQLite repository implementations for scan
// history.
//
// All database reads and writes for recorded scan runs belong here rather
// than in the sweep or export packages, which stay free of SQL.
package sqlite
