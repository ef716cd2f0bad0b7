// Package types holds the domain objects shared across the log cache,
// callback sequencer, storage orchestrator, upload pipeline, and
// metadata client — the data model described by the durability core's
// specification, independent of any single component's internals.
package types

import "time"

// StreamRecordBatch is the unit of durability: a contiguous run of
// offsets within one stream, handed to the core as an opaque payload.
// BaseOffset/LastOffset are stream-local logical offsets, distinct from
// the WAL's own logical ring offset; WalOffset records where the encoded
// batch landed in the WAL.
type StreamRecordBatch struct {
	StreamID    int64
	BaseOffset  int64
	LastOffset  int64 // exclusive
	Payload     []byte
	EncodedSize int64
	WalOffset   int64
}

// Validate checks the batch's invariant: LastOffset > BaseOffset.
func (b StreamRecordBatch) Validate() bool {
	return b.LastOffset > b.BaseOffset
}

// StreamRange describes the offsets of one stream covered by an uploaded
// object.
type StreamRange struct {
	StreamID    int64
	StartOffset int64
	EndOffset   int64 // exclusive
}

// ObjectMetadata is the record committed to the metadata service after a
// cache block's upload completes.
type ObjectMetadata struct {
	ObjectID     int64
	Bucket       string
	Key          string
	StreamRanges []StreamRange
	Size         int64
}

// OpeningStreamEnd is the end offset a stream was last known to have
// reached, as reported by the metadata service at open time; used to
// distinguish a legitimate recovery gap from a detected data-loss
// violation.
type OpeningStreamEnd struct {
	StreamID  int64
	Epoch     int64
	EndOffset int64
}

// StreamInfo is the metadata service's view of one stream.
type StreamInfo struct {
	StreamID    int64
	Epoch       int64
	StartOffset int64
	EndOffset   int64
}

// CommitRequest is submitted to the metadata service after an object's
// multipart upload completes, binding the object to the stream ranges it
// covers.
type CommitRequest struct {
	ObjectID     int64
	Bucket       string
	Key          string
	StreamRanges []StreamRange
	Size         int64
	CommittedAt  time.Time
}

// CompletedPart identifies one finished part of a multipart upload, as
// returned by the object store after PutPart.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// AllStreams is the sentinel stream id meaning "every stream", used by
// ForceUpload.
const AllStreams int64 = -1
