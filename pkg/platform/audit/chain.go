package audit

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// GenesisHash is the PrevHash of the first record in a chain.
var GenesisHash = strings.Repeat("0", 2*blake2b.Size256)

// Seal links rec to prev and computes its hash. Timestamps are normalized to UTC
// microseconds so a record hashes the same before and after a database round trip.
func Seal(rec *Record, prev string) {
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)
	rec.PrevHash = prev
	rec.Hash = Digest(*rec)
}

// Digest hashes the canonical form of rec. Seq and Hash are excluded.
func Digest(rec Record) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for an oversized key
		panic(err)
	}
	actor := ""
	if rec.ActorID != nil {
		actor = rec.ActorID.String()
	}
	for _, field := range []string{
		rec.PrevHash,
		rec.ID.String(),
		actor,
		rec.Action,
		rec.Method,
		rec.Endpoint,
		rec.IP,
		rec.Client,
		string(rec.Outcome),
		rec.Reason,
		rec.RequestID,
		rec.Target,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// length-prefixed so ("ab","c") and ("a","bc") differ
func writeField(h hash.Hash, s string) {
	var n [binary.MaxVarintLen64]byte
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	h.Write([]byte(s))
}

// Break describes the first record at which a chain stops verifying.
type Break struct {
	Index  int
	Seq    int64
	ID     string
	Reason string
}

func (b *Break) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d (%s): %s", b.Seq, b.ID, b.Reason)
}

// Verify walks records in chain order. It returns nil when every link holds.
func Verify(records []Record) *Break {
	prev := GenesisHash
	for i, rec := range records {
		if rec.PrevHash != prev {
			return &Break{Index: i, Seq: rec.Seq, ID: rec.ID.String(), Reason: "prev_hash does not match preceding record"}
		}
		if Digest(rec) != rec.Hash {
			return &Break{Index: i, Seq: rec.Seq, ID: rec.ID.String(), Reason: "hash does not match record contents"}
		}
		prev = rec.Hash
	}
	return nil
}
