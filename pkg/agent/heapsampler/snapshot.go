package heapsampler

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion is bumped whenever the snapshot layout changes, so a
// reader can reject files written by an incompatible build.
const snapshotVersion = 1

// Snapshot is the serialized form of the aggregated samples.
type Snapshot struct {
	Version int     `msgpack:"version"`
	Entries []Entry `msgpack:"entries"`
}

// WriteSnapshot serializes the current aggregate to w.
func (a *Agent) WriteSnapshot(w io.Writer) error {
	snap := Snapshot{
		Version: snapshotVersion,
		Entries: a.Entries(),
	}
	if err := msgpack.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("heapsampler: encoding snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot deserializes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("heapsampler: decoding snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("heapsampler: snapshot version %d not supported (want %d)", snap.Version, snapshotVersion)
	}
	return &snap, nil
}
