package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the durability core.
// Use these keys consistently so log lines from the WAL, cache, sequencer,
// orchestrator, and upload pipeline correlate in aggregation tooling.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Stream identity
	// ========================================================================
	KeyStreamID     = "stream_id"
	KeyEpoch        = "epoch"
	KeyBaseOffset   = "base_offset"
	KeyLastOffset   = "last_offset"
	KeyRecordOffset = "record_offset"

	// ========================================================================
	// WAL
	// ========================================================================
	KeyWalCapacity     = "wal_capacity"
	KeyTrimOffset      = "trim_offset"
	KeyWindowStart     = "window_start_offset"
	KeyWindowNextWrite = "window_next_write_offset"
	KeyWindowMaxLength = "window_max_length"
	KeyShutdownType    = "shutdown_type"
	KeyRecoverOffset   = "recover_offset"
	KeyRecoveredCount  = "recovered_count"
	KeyBodyLength      = "body_length"
	KeyConfirmOffset   = "wal_confirm_offset"
	KeyIOWorker        = "io_worker"
	KeyBlockPosition   = "block_position"

	// ========================================================================
	// Log cache
	// ========================================================================
	KeyCacheBytes      = "cache_bytes"
	KeyCacheBlockID    = "cache_block_id"
	KeyCacheBlockBytes = "cache_block_bytes"
	KeyCacheStreams    = "cache_streams"
	KeyEvictedBytes    = "evicted_bytes"

	// ========================================================================
	// Upload pipeline
	// ========================================================================
	KeyObjectID    = "object_id"
	KeyUploadPart  = "upload_part"
	KeyUploadStage = "upload_stage"
	KeyBucket      = "bucket"
	KeyObjectKey   = "object_key"
	KeyAttempt     = "attempt"
	KeyMaxRetries  = "max_retries"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyComponent  = "component"
	KeyOperation  = "operation"
)

// TraceID returns a slog.Attr for distributed trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for distributed span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// StreamID returns a slog.Attr for a stream identifier
func StreamID(id int64) slog.Attr {
	return slog.Int64(KeyStreamID, id)
}

// Epoch returns a slog.Attr for a stream epoch
func Epoch(epoch int64) slog.Attr {
	return slog.Int64(KeyEpoch, epoch)
}

// BaseOffset returns a slog.Attr for a record batch's base offset
func BaseOffset(off int64) slog.Attr {
	return slog.Int64(KeyBaseOffset, off)
}

// LastOffset returns a slog.Attr for a record batch's exclusive last offset
func LastOffset(off int64) slog.Attr {
	return slog.Int64(KeyLastOffset, off)
}

// RecordOffset returns a slog.Attr for a WAL logical record offset
func RecordOffset(off int64) slog.Attr {
	return slog.Int64(KeyRecordOffset, off)
}

// TrimOffset returns a slog.Attr for the WAL trim offset
func TrimOffset(off int64) slog.Attr {
	return slog.Int64(KeyTrimOffset, off)
}

// WindowStart returns a slog.Attr for the sliding window start offset
func WindowStart(off int64) slog.Attr {
	return slog.Int64(KeyWindowStart, off)
}

// WindowNextWrite returns a slog.Attr for the sliding window next-write offset
func WindowNextWrite(off int64) slog.Attr {
	return slog.Int64(KeyWindowNextWrite, off)
}

// WindowMaxLength returns a slog.Attr for the sliding window max length
func WindowMaxLength(n int64) slog.Attr {
	return slog.Int64(KeyWindowMaxLength, n)
}

// ShutdownType returns a slog.Attr for the header's recorded shutdown type
func ShutdownType(t string) slog.Attr {
	return slog.String(KeyShutdownType, t)
}

// RecoverOffset returns a slog.Attr for the recovery cursor offset
func RecoverOffset(off int64) slog.Attr {
	return slog.Int64(KeyRecoverOffset, off)
}

// RecoveredCount returns a slog.Attr for the number of records recovered
func RecoveredCount(n int) slog.Attr {
	return slog.Int(KeyRecoveredCount, n)
}

// BodyLength returns a slog.Attr for a record frame's body length
func BodyLength(n uint32) slog.Attr {
	return slog.Any(KeyBodyLength, n)
}

// ConfirmOffset returns a slog.Attr for the WAL's confirm offset
func ConfirmOffset(off int64) slog.Attr {
	return slog.Int64(KeyConfirmOffset, off)
}

// IOWorker returns a slog.Attr for the I/O worker index handling a block
func IOWorker(idx int) slog.Attr {
	return slog.Int(KeyIOWorker, idx)
}

// BlockPosition returns a slog.Attr for the physical block device position
func BlockPosition(pos int64) slog.Attr {
	return slog.Int64(KeyBlockPosition, pos)
}

// CacheBytes returns a slog.Attr for the total cache size in bytes
func CacheBytes(n uint64) slog.Attr {
	return slog.Uint64(KeyCacheBytes, n)
}

// CacheBlockID returns a slog.Attr for a cache block identifier
func CacheBlockID(id string) slog.Attr {
	return slog.String(KeyCacheBlockID, id)
}

// CacheBlockBytes returns a slog.Attr for a single cache block's size
func CacheBlockBytes(n uint64) slog.Attr {
	return slog.Uint64(KeyCacheBlockBytes, n)
}

// CacheStreams returns a slog.Attr for the number of streams in a cache block
func CacheStreams(n int) slog.Attr {
	return slog.Int(KeyCacheStreams, n)
}

// EvictedBytes returns a slog.Attr for the bytes freed by an eviction pass
func EvictedBytes(n uint64) slog.Attr {
	return slog.Uint64(KeyEvictedBytes, n)
}

// ObjectID returns a slog.Attr for an object-store assigned object id
func ObjectID(id int64) slog.Attr {
	return slog.Int64(KeyObjectID, id)
}

// UploadPart returns a slog.Attr for a multipart upload part number
func UploadPart(n int) slog.Attr {
	return slog.Int(KeyUploadPart, n)
}

// UploadStage returns a slog.Attr for the upload pipeline stage (prepare, upload, commit)
func UploadStage(stage string) slog.Attr {
	return slog.String(KeyUploadStage, stage)
}

// Bucket returns a slog.Attr for the object store bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// ObjectKey returns a slog.Attr for an object store key
func ObjectKey(key string) slog.Attr {
	return slog.String(KeyObjectKey, key)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric/string error code
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// Component returns a slog.Attr naming the durability-core component emitting the line
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation returns a slog.Attr for a sub-operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
