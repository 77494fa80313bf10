// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "errors"

// Errors on the archive-fatal path. classifyResult maps every error other
// than the artifact-local sentinels below to ResultArchiveFailed, and
// ArtifactStore's Load*/Store* methods return such errors to their caller.
// ArtifactStore does not change the Archive's state itself: Archive.Fail
// moves the archive to Failed, after which Store and BeginRead return
// ErrArchiveFailed, and Finalize moves it to Failed when layout or flush
// fails.
var (
	// ErrOutsideBoundary is returned when an offset/size pair falls outside
	// [0, total_size) of the archive buffer.
	ErrOutsideBoundary = errors.New("scarchive: access outside archive boundary")

	// ErrReservedSizeExceeded is returned when a store append would exceed
	// the reserved staging buffer.
	ErrReservedSizeExceeded = errors.New("scarchive: reserved store size exceeded")

	// ErrVersionMismatch is returned when the on-disk header version does
	// not match the runtime's compile-time version.
	ErrVersionMismatch = errors.New("scarchive: archive version does not match runtime version")

	// ErrMalformedEntry is returned when an entry's offsets do not lie
	// within archive bounds, or entries[i].idx != i.
	ErrMalformedEntry = errors.New("scarchive: malformed entry in archive")

	// ErrArchiveFailed is returned by any operation attempted after the
	// archive has transitioned to the Failed state.
	ErrArchiveFailed = errors.New("scarchive: archive is in the failed state")

	// ErrArchiveClosed is returned by any operation attempted after Close.
	ErrArchiveClosed = errors.New("scarchive: archive is closed")

	// ErrUnhandledRelocationType is fatal: the relocation codec encountered
	// a relocation type it has no fix-up rule for.
	ErrUnhandledRelocationType = errors.New("scarchive: unhandled relocation type")

	// ErrAddressTableIncomplete is fatal: id_for_address was invoked before
	// the address table finished both registration phases.
	ErrAddressTableIncomplete = errors.New("scarchive: address table not yet complete")

	// ErrUnknownAddress is fatal on store: an address could not be resolved
	// to any known runtime function, stub, blob, string, or library symbol.
	ErrUnknownAddress = errors.New("scarchive: address not found in address table")

	// ErrInvalidAddressID is fatal on load: address_for_id was asked to
	// resolve an id outside every registered range.
	ErrInvalidAddressID = errors.New("scarchive: invalid address table id")
)

// ErrLookupFailed is the artifact-local sentinel (spec's "lookup_failed"
// axis). A symbolic class/method/string lookup failed, or an unsupported
// object kind was seen. Load* report it as a plain miss (found=false, nil
// error). Store* return it as an error and do not rewind the write cursor:
// the bytes the failed store already appended stay in the buffer, with no
// Entry referring to them. The archive remains usable for other artifacts.
var ErrLookupFailed = errors.New("scarchive: symbolic lookup failed for this artifact")

// ErrNameMismatch reports that the name recorded in the entry does not
// match the name the caller expects. LoadStub, LoadBlob and LoadNmethod
// report it as a plain miss (found=false, nil error) rather than returning
// it.
var ErrNameMismatch = errors.New("scarchive: artifact name mismatch")

// ErrNotFound is returned by FindEntry-style lookups that simply found no
// matching, non-not-entrant entry. It is not a failure of the archive.
var ErrNotFound = errors.New("scarchive: no matching entry")

// ErrExternalWordRepackOverflow is returned when a relocated external_word
// target needs more bytes than the instruction's original embedded payload
// reserved (spec.md §8 scenario 7). classifyResult treats it as
// archive-fatal, so Load* return it to the caller rather than reporting a
// plain miss; the caller's CodeBuffer is left untouched.
var ErrExternalWordRepackOverflow = errors.New("scarchive: external_word target does not fit in the original embedded datalen")

// Result threads the two-axis outcome (spec §7, §9 "Failure surface")
// through internal helpers before being collapsed to the public (bool,
// error) API. Only ResultArchiveFailed poisons the archive singleton.
type Result int

const (
	// ResultOK indicates the operation fully succeeded.
	ResultOK Result = iota
	// ResultArtifactSkip indicates a lookup_failed outcome: this artifact
	// is discarded, the archive stays usable.
	ResultArtifactSkip
	// ResultArchiveFailed indicates a failed outcome: the archive is
	// poisoned.
	ResultArchiveFailed
)

// classifyResult maps an error returned by a Load*/Store* helper onto the
// two-axis outcome: nil is ResultOK; ErrNotFound/ErrNameMismatch/
// ErrLookupFailed are per-artifact misses (ResultArtifactSkip, archive
// stays usable); anything else is archive-fatal (ResultArchiveFailed).
// ArtifactStore's Load* methods call this to decide whether to report a
// plain "not found" or propagate the error to the caller.
func classifyResult(err error) Result {
	switch err {
	case nil:
		return ResultOK
	case ErrNotFound, ErrNameMismatch, ErrLookupFailed:
		return ResultArtifactSkip
	default:
		return ResultArchiveFailed
	}
}
