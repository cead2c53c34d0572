// Package archive implements the placed tile archive: a compact,
// randomly-seekable binary history of timestamped tile placements.
//
// Placements are stored as fixed width 9 byte records, partitioned into
// time-ordered chunks. Each chunk is persisted as one named entry in an
// external container (see the storage subpackage). Because every record
// occupies exactly RecordSize bytes, any record can be located with simple
// byte arithmetic knowing only its index, and the Reader exposes the whole
// chunked history as a single seekable byte stream.
package archive
