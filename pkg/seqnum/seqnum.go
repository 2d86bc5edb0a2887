// Package seqnum implements the per-session ordering token used to decide
// whether a work package may run now, must wait for a predecessor, or is
// exempt from ordering entirely.
package seqnum

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// SequenceNumber is either Ordered(n) or OutOfOrder. OutOfOrder waives
// ordering: it never blocks on, and is never blocked by, an Ordered value.
type SequenceNumber struct {
	ordered bool
	n       uint64
}

// Ordered returns a SequenceNumber carrying the given ordinal.
func Ordered(n uint64) SequenceNumber {
	return SequenceNumber{ordered: true, n: n}
}

// OutOfOrder returns a SequenceNumber that waives in-session ordering.
func OutOfOrder() SequenceNumber {
	return SequenceNumber{ordered: false}
}

// IsOutOfOrder reports whether s waives ordering.
func (s SequenceNumber) IsOutOfOrder() bool {
	return !s.ordered
}

// Value returns the ordinal carried by an Ordered SequenceNumber. It is
// meaningless (and always 0) for OutOfOrder.
func (s SequenceNumber) Value() uint64 {
	return s.n
}

// Next returns the successor of s. Incrementing OutOfOrder is a no-op.
func (s SequenceNumber) Next() SequenceNumber {
	if !s.ordered {
		return s
	}
	return SequenceNumber{ordered: true, n: s.n + 1}
}

// Equal reports equality per spec.md §3: true iff both OutOfOrder, or both
// Ordered with equal ordinal.
func (s SequenceNumber) Equal(o SequenceNumber) bool {
	if s.ordered != o.ordered {
		return false
	}
	if !s.ordered {
		return true
	}
	return s.n == o.n
}

// Less reports whether s sorts strictly before o. Any comparison involving
// OutOfOrder is "unordered": Less returns false in both directions.
func (s SequenceNumber) Less(o SequenceNumber) bool {
	if !s.ordered || !o.ordered {
		return false
	}
	return s.n < o.n
}

// Greater reports whether s sorts strictly after o, with the same
// OutOfOrder-is-unordered rule as Less.
func (s SequenceNumber) Greater(o SequenceNumber) bool {
	if !s.ordered || !o.ordered {
		return false
	}
	return s.n > o.n
}

func (s SequenceNumber) String() string {
	if !s.ordered {
		return "OutOfOrder"
	}
	return fmt.Sprintf("Ordered(%d)", s.n)
}

// WriteTo serializes s as a one-byte presence flag followed, if present, by
// the big-endian ordinal.
func (s SequenceNumber) WriteTo(w io.Writer) (int64, error) {
	if !s.ordered {
		n, err := w.Write([]byte{0})
		return int64(n), err
	}
	buf := make([]byte, 9)
	buf[0] = 1
	binary.BigEndian.PutUint64(buf[1:], s.n)
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom deserializes the wire form written by WriteTo.
func (s *SequenceNumber) ReadFrom(r io.Reader) (int64, error) {
	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return 0, err
	}
	if flag[0] == 0 {
		*s = OutOfOrder()
		return 1, nil
	}
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	*s = Ordered(binary.BigEndian.Uint64(buf))
	return 9, nil
}

// MarshalBinary implements encoding.BinaryMarshaler over the same wire form
// as WriteTo/ReadFrom, for use from JSON/other envelopes.
func (s SequenceNumber) MarshalBinary() ([]byte, error) {
	if !s.ordered {
		return []byte{0}, nil
	}
	buf := make([]byte, 9)
	buf[0] = 1
	binary.BigEndian.PutUint64(buf[1:], s.n)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *SequenceNumber) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("seqnum: empty wire form")
	}
	if data[0] == 0 {
		*s = OutOfOrder()
		return nil
	}
	if len(data) != 9 {
		return fmt.Errorf("seqnum: ordered wire form must be 9 bytes, got %d", len(data))
	}
	*s = Ordered(binary.BigEndian.Uint64(data[1:]))
	return nil
}

// jsonForm mirrors the wire presence-flag layout for transport over the
// JSON-bodied HTTP RPC surface.
type jsonForm struct {
	Ordered bool   `json:"ordered"`
	N       uint64 `json:"n,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s SequenceNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonForm{Ordered: s.ordered, N: s.n})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SequenceNumber) UnmarshalJSON(data []byte) error {
	var f jsonForm
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if !f.Ordered {
		*s = OutOfOrder()
		return nil
	}
	*s = Ordered(f.N)
	return nil
}
