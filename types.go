// Package kvvfs implements a virtual-file-system back end for an embedded
// SQL engine whose storage layer expects a POSIX-like file interface over
// a browser-local key/value store. The bridge is a versioned-block storage
// engine plus a zero-store rollback-journal emulator; see DESIGN.md for the
// per-package breakdown.
package kvvfs

// Result is the engine-facing status integer every VFS operation returns
// (spec.md §6). Values are adopted unchanged in meaning from the engine's
// public interface.
type Result int

const (
	// ResultOK indicates success.
	ResultOK Result = iota
	// ResultIOErr is a generic, unexpected I/O failure.
	ResultIOErr
	// ResultBusy indicates a lock escalation was denied without blocking
	// other progress.
	ResultBusy
	// ResultCantOpen indicates open failed (no block 0 and no CREATE flag,
	// schema mismatch, or KVS connect failure).
	ResultCantOpen
	// ResultIOErrShortRead indicates a read past fileSize; the caller's
	// buffer tail is zero-filled regardless.
	ResultIOErrShortRead
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultIOErr:
		return "IOERR"
	case ResultBusy:
		return "BUSY"
	case ResultCantOpen:
		return "CANTOPEN"
	case ResultIOErrShortRead:
		return "IOERR_SHORT_READ"
	default:
		return "UNKNOWN"
	}
}

// OpenFlags are the engine's open-time flags relevant to this VFS
// (spec.md §6); other engine flags are accepted and ignored.
type OpenFlags int

const (
	// OpenCreate requests the file be created if block 0 is absent.
	OpenCreate OpenFlags = 1 << iota
	// OpenDeleteOnClose requests all records for the path be deleted when
	// the file is closed.
	OpenDeleteOnClose
	// OpenMainJournal marks the file as the engine's main rollback journal.
	OpenMainJournal
	// OpenTempJournal marks the file as a temporary rollback journal (e.g.
	// for a statement journal); treated identically to OpenMainJournal by
	// this VFS.
	OpenTempJournal
)

// Has reports whether flags contains bit.
func (f OpenFlags) Has(bit OpenFlags) bool { return f&bit != 0 }

// IsJournal reports whether the flags mark this open as a journal file.
func (f OpenFlags) IsJournal() bool {
	return f.Has(OpenMainJournal) || f.Has(OpenTempJournal)
}

// LockLevel is one state of the 5-state lock escalation protocol
// (spec.md §4.5/§6).
type LockLevel int

const (
	LockNone      LockLevel = 0
	LockShared    LockLevel = 1
	LockReserved  LockLevel = 2
	LockPending   LockLevel = 3
	LockExclusive LockLevel = 4
)

func (l LockLevel) String() string {
	switch l {
	case LockNone:
		return "NONE"
	case LockShared:
		return "SHARED"
	case LockReserved:
		return "RESERVED"
	case LockPending:
		return "PENDING"
	case LockExclusive:
		return "EXCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// DeviceCharacteristic is a bitmask of properties this VFS reports about
// the files it serves (spec.md §4.6).
type DeviceCharacteristic int

const (
	// IOCapSafeAppend: appends are atomic with respect to torn writes.
	IOCapSafeAppend DeviceCharacteristic = 1 << iota
	// IOCapSequential: writes arrive in the order issued.
	IOCapSequential
	// IOCapUndeletableWhenOpen: an open file cannot be deleted out from
	// under its handle.
	IOCapUndeletableWhenOpen
)

// deviceCharacteristics is the fixed set this VFS always reports: the
// versioned store never reorders or tears a single block write, and the
// in-memory opened-file table makes deletion-while-open impossible to
// observe mid-operation.
const deviceCharacteristics = IOCapSafeAppend | IOCapSequential | IOCapUndeletableWhenOpen

// AccessFlag selects the probe performed by Access (spec.md §4.6's
// "access(name, flags, out)").
type AccessFlag int

const (
	// AccessExists probes for the presence of any block-0 record.
	AccessExists AccessFlag = iota
	// AccessReadWrite is treated identically to AccessExists: this VFS
	// never reports a path as read-only.
	AccessReadWrite
)
