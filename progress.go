package ocidist

// ProgressEvent reports aggregate byte progress across every blob in a
// pull or push: transferred and total
// are summed across all in-flight and completed descriptors, not just the
// most recently active one.
type ProgressEvent struct {
	// Operation identifies the operation type ("pull" or "push").
	Operation string
	// BytesTransferred is the cumulative bytes transferred so far across
	// every descriptor in the operation.
	BytesTransferred int64
	// TotalBytes is the sum of every descriptor's declared size.
	TotalBytes int64
	// Percent is BytesTransferred/TotalBytes*100, clamped to [0,100]. While
	// bytes move, an event is only emitted when it changes from the previous
	// event; a successful operation always ends with one event at 100, even
	// if 100 was already reported.
	Percent int
}

// ProgressCallback is invoked during pull/push operations to report
// aggregate progress. Implementations should be efficient since this may
// be called frequently.
type ProgressCallback func(event ProgressEvent)
