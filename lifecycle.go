// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"sync"
	"time"

	"github.com/gojit/scarchive/log"
)

// This file is the Archive singleton's lifecycle: open-for-read,
// open-for-write, finalize-then-close, and the reader-drain gate that lets
// Close wait for in-flight Load* calls to finish before unmapping the
// backing file. It is grounded on the teacher's file.go New/NewBytes/Close
// pair and its Options struct: New validates and defaults Options, mmaps
// (or accepts) the backing bytes, and constructs one File; Close unmaps and
// closes the descriptor. Archive generalizes that two-function shape to
// scarchive's two distinct modes (read vs. write) and adds the drain gate
// and compile-lock exclusion spec.md §7/§9 require that a plain parser
// never needed.

// State is the Archive's lifecycle state machine (spec.md §7).
type State int

const (
	StateUninitialized State = iota
	StateReadReady
	StateWriteReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReadReady:
		return "ReadReady"
	case StateWriteReady:
		return "WriteReady"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return "Uninitialized"
	}
}

// ArchiveVersion is the on-disk format version this build writes and the
// only version it accepts on load (spec.md §6, no backward-compat shims).
const ArchiveVersion uint32 = 1

// defaultReserveSize is the store-mode staging buffer reservation used when
// Config.ReserveSize is left at zero.
const defaultReserveSize = 64 << 20

// Config mirrors the teacher's Options: a defaults-filled-in bag of knobs
// passed to Open, not retained verbatim.
type Config struct {
	// Path is the archive file's location on disk.
	Path string

	// AddressTable is the embedder's process-wide address table. Archive
	// never constructs one itself: only the embedding runtime knows its own
	// runtime functions, stubs, and blobs (spec.md §4.1, §6).
	AddressTable *AddressTable

	// ReserveSize bounds the store-mode staging buffer. Zero means
	// defaultReserveSize.
	ReserveSize uint32

	// Verify puts a read-mode archive into validation mode (spec.md §6
	// "verify: bool ... validation mode"): every Load* call still decodes
	// and fixes up the artifact, so a corrupt archive is still detected,
	// but reports the artifact as not found so the caller recompiles it
	// fresh instead of reviving it (spec.md §4.8 load_nmethod: "If verify
	// mode is enabled, read succeeds but returns false").
	Verify bool

	// Logger is a custom backend; nil falls back to a filtered stderr
	// logger (log.NewHelper's default).
	Logger log.Logger
}

func (c Config) logger() *log.Helper {
	return log.NewHelper(c.Logger)
}

// ErrReadersStillActive is returned by Close when in-flight Load* calls
// have not drained within the requested timeout.
var ErrReadersStillActive = errArchive("readers still active at close timeout")

func errArchive(msg string) error { return &archiveError{msg} }

type archiveError struct{ msg string }

func (e *archiveError) Error() string { return "scarchive: " + e.msg }

// Archive is the process-wide singleton gating access to one archive file
// at a time. The Load*/Store* methods live on the ArtifactStore that
// Archive hands out through Store (write mode) and BeginRead (read mode);
// the state checks and the reader count apply at those two calls, and the
// ArtifactStore itself does not check the Archive's state.
type Archive struct {
	mu    sync.Mutex
	state State
	mode  ioMode
	path  string

	io        *IoBuffer
	entries   *EntryTable
	addrTable *AddressTable
	meta      *MetadataCodec
	store     *ArtifactStore
	stringsW  *StringPoolWriter
	stringsR  *StringPool
	header    Header
	logger    *log.Helper

	readingInFlight int

	// compileMu serializes Store* calls against each other the way the
	// host's compile lock serializes compilation generally (spec.md §7):
	// only one compiled artifact is ever being appended at a time.
	compileMu sync.Mutex
}

var (
	globalMu sync.Mutex
	global   *Archive
)

// Instance returns the current process-wide Archive, or nil if none is
// open.
func Instance() *Archive {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

func setInstance(a *Archive) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = a
}

// OpenForRead mmaps the archive at cfg.Path, validates its header, and
// decodes its entry table and string pool. The returned Archive becomes
// the process-wide singleton.
func OpenForRead(cfg Config) (*Archive, error) {
	logger := cfg.logger()

	buf, err := OpenIoBufferForLoad(cfg.Path)
	if err != nil {
		return nil, err
	}

	headerBytes, err := buf.ReadAt(0, HeaderSize)
	if err != nil {
		buf.Close()
		return nil, err
	}
	header, err := DecodeHeader(headerBytes)
	if err != nil {
		buf.Close()
		return nil, err
	}
	if header.Version != ArchiveVersion {
		buf.Close()
		return nil, ErrVersionMismatch
	}

	entries, err := DecodeEntryTable(buf.data, header.EntriesOffset, header.EntriesCount)
	if err != nil {
		buf.Close()
		return nil, err
	}
	strings, err := DecodeStringPool(buf.data, header.StringsOffset, header.StringsCount)
	if err != nil {
		buf.Close()
		return nil, err
	}

	meta := NewMetadataCodec(logger)
	store := NewArtifactStore(entries, cfg.AddressTable, meta, cfg.Verify, logger)

	a := &Archive{
		state:     StateReadReady,
		mode:      ioModeLoad,
		path:      cfg.Path,
		io:        buf,
		entries:   entries,
		addrTable: cfg.AddressTable,
		meta:      meta,
		store:     store,
		stringsR:  strings,
		header:    header,
		logger:    logger,
	}
	setInstance(a)
	return a, nil
}

// OpenForWrite reserves a fresh staging buffer and returns an Archive ready
// to accept Store* calls. The file at cfg.Path is not touched until
// Finalize.
func OpenForWrite(cfg Config) (*Archive, error) {
	logger := cfg.logger()

	reserve := cfg.ReserveSize
	if reserve == 0 {
		reserve = defaultReserveSize
	}

	buf := NewIoBufferForStore(reserve)
	// Placeholder header: entries_count/total_size/offsets are unknown
	// until Finalize; rewritten in place there.
	if _, err := buf.Append(Header{Version: ArchiveVersion}.Encode()); err != nil {
		return nil, err
	}

	entries := &EntryTable{}
	meta := NewMetadataCodec(logger)
	store := NewArtifactStore(entries, cfg.AddressTable, meta, cfg.Verify, logger)

	a := &Archive{
		state:     StateWriteReady,
		mode:      ioModeStore,
		path:      cfg.Path,
		io:        buf,
		entries:   entries,
		addrTable: cfg.AddressTable,
		meta:      meta,
		store:     store,
		stringsW:  NewStringPoolWriter(),
		logger:    logger,
	}
	setInstance(a)
	return a, nil
}

// State returns the archive's current lifecycle state.
func (a *Archive) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Header returns the archive's decoded header (zero value until Finalize
// in write mode).
func (a *Archive) Header() Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.header
}

// Entries returns a snapshot of the entry catalog, in insertion order.
func (a *Archive) Entries() []Entry {
	return a.entries.All()
}

// StringPoolStats reports the number of strings currently pooled.
type StringPoolStats struct {
	Count int
}

// StringPoolStats returns the current string-pool size.
func (a *Archive) StringPoolStats() StringPoolStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stringsR != nil {
		return StringPoolStats{Count: a.stringsR.Len()}
	}
	if a.stringsW != nil {
		return StringPoolStats{Count: a.stringsW.Len()}
	}
	return StringPoolStats{}
}

// Store returns the artifact store, or nil with ErrArchiveFailed/
// ErrArchiveClosed if the archive cannot currently accept writes.
func (a *Archive) Store() (*ArtifactStore, *IoBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateWriteReady:
		return a.store, a.io, nil
	case StateFailed:
		return nil, nil, ErrArchiveFailed
	case StateClosed:
		return nil, nil, ErrArchiveClosed
	default:
		return nil, nil, ErrArchiveFailed
	}
}

// BeginRead admits one in-flight Load* call, incrementing the reader count
// so Close can drain before unmapping. Callers must call EndRead exactly
// once for every successful BeginRead.
func (a *Archive) BeginRead() (*ArtifactStore, *IoBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateReadReady:
		a.readingInFlight++
		return a.store, a.io, nil
	case StateFailed:
		return nil, nil, ErrArchiveFailed
	case StateClosed:
		return nil, nil, ErrArchiveClosed
	default:
		return nil, nil, ErrArchiveFailed
	}
}

// EndRead releases one reader admitted by BeginRead.
func (a *Archive) EndRead() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.readingInFlight > 0 {
		a.readingInFlight--
	}
}

// Fail transitions the archive to Failed, poisoning every subsequent
// operation. Used when an internal invariant (a malformed entry, a
// boundary violation) is detected outside the normal Store/Load error
// return path.
func (a *Archive) Fail(cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateClosed {
		return
	}
	a.logger.Errorf("archive failed: %v", cause)
	a.state = StateFailed
}

// finalizeLayout appends the entries table and string pool and rewrites
// the header in place, matching spec.md §6's file layout: header, content
// region, entries table, string pool, with the header's offsets filled in
// last once every size is known.
func (a *Archive) finalizeLayout() error {
	if err := a.io.AlignWrite(); err != nil {
		return err
	}
	entriesOffset, _, err := WriteAlignedBlock(a.io, a.entries.Encode())
	if err != nil {
		return err
	}
	stringsOffset, _, err := WriteAlignedBlock(a.io, a.stringsW.Encode())
	if err != nil {
		return err
	}

	header := Header{
		Version:       ArchiveVersion,
		EntriesCount:  uint32(a.entries.Len()),
		TotalSize:     a.io.Size(),
		EntriesOffset: entriesOffset,
		StringsCount:  uint32(a.stringsW.Len()),
		StringsOffset: stringsOffset,
	}
	a.header = header
	return a.io.WriteAt(0, header.Encode())
}

// Finalize completes a write-mode archive: it lays out the entries table
// and string pool, rewrites the header, flushes everything to disk in one
// syscall, and transitions to Closed (spec.md §7's "finalize-then-close").
// A finalized Archive accepts no further Store* calls; open a fresh
// Archive with OpenForRead to read it back.
func (a *Archive) Finalize() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateClosed {
		return false, ErrArchiveClosed
	}
	if a.state != StateWriteReady {
		return false, ErrArchiveFailed
	}

	if err := a.finalizeLayout(); err != nil {
		a.state = StateFailed
		return false, err
	}
	if err := a.io.Flush(a.path); err != nil {
		a.state = StateFailed
		return false, err
	}

	a.state = StateClosed
	_ = a.io.Close()
	return true, nil
}

// Close releases a read-mode archive's resources, waiting up to timeout
// for in-flight Load* calls (admitted via BeginRead) to finish. A timeout
// of zero or less waits indefinitely.
//
// The wait is a short bounded poll rather than a condition variable: a
// condvar gains nothing here (Close already holds the single coarse lock
// every BeginRead/EndRead also takes, so there is no separate notification
// channel to wire up) and a poll loop cannot suffer the lost-wakeup races
// that an improperly-drained Broadcast can.
func (a *Archive) Close(timeout time.Duration) error {
	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		return nil
	}
	a.state = StateClosed // reject new BeginRead immediately

	var deadline time.Time
	bounded := timeout > 0
	if bounded {
		deadline = time.Now().Add(timeout)
	}
	for a.readingInFlight > 0 {
		if bounded && !time.Now().Before(deadline) {
			a.state = StateReadReady // readers are still active: undo the rejection
			a.mu.Unlock()
			return ErrReadersStillActive
		}
		a.mu.Unlock()
		time.Sleep(time.Millisecond)
		a.mu.Lock()
	}
	defer a.mu.Unlock()
	return a.io.Close()
}

// BeginCompile acquires the compile-lock exclusion every Store* call needs
// (spec.md §7): only one compiled artifact is appended at a time. The
// returned release function must be called exactly once.
func (a *Archive) BeginCompile() func() {
	a.compileMu.Lock()
	return a.compileMu.Unlock
}
