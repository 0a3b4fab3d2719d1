package depot

// ProgressEvent reports progress of a write or extract.
type ProgressEvent struct {
	// Stage identifies the operation.
	Stage ProgressStage

	// Name is the entry currently being processed, if any.
	Name string

	// BytesDone counts bytes of Name handled so far.
	BytesDone uint64

	// BytesTotal is the length of Name, or zero when unknown.
	BytesTotal uint64

	// EntriesDone is the number of entries completed.
	EntriesDone int

	// EntriesTotal is the number of entries expected, or zero when unknown.
	EntriesTotal int
}

// ProgressStage identifies an operation phase.
type ProgressStage uint8

// Progress stages.
const (
	// StageAppending indicates entries are being compressed and written.
	StageAppending ProgressStage = iota

	// StageFinalizing indicates the TOC and header are being written.
	StageFinalizing

	// StageExtracting indicates entries are being written to disk.
	StageExtracting

	// StageVerifying indicates entries are being decoded and checked.
	StageVerifying
)

// String returns the stage name.
func (s ProgressStage) String() string {
	switch s {
	case StageAppending:
		return "appending"
	case StageFinalizing:
		return "finalizing"
	case StageExtracting:
		return "extracting"
	case StageVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates. Extract calls it from multiple
// goroutines, so implementations must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)
