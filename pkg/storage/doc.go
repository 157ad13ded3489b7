/*
Package storage persists manager-restart state in an embedded BoltDB
file: one bucket for chunk-store summaries, one for vault records.
Both follow the same bucket-per-entity, JSON-marshaled-value pattern,
with keys chosen so BoltDB's cursor order is useful on its own (a
process index is stored big-endian so ListVaultRecords comes back in
index order without a separate sort).
*/
package storage
