package seqnum

import (
	"bytes"
	"encoding/json"
	"testing"
)

func Test_ordered_comparisons(t *testing.T) {
	a := Ordered(3)
	b := Ordered(5)

	if !a.Less(b) {
		t.Error("expected Ordered(3) < Ordered(5)")
	}
	if !b.Greater(a) {
		t.Error("expected Ordered(5) > Ordered(3)")
	}
	if a.Equal(b) {
		t.Error("did not expect Ordered(3) == Ordered(5)")
	}
	if !Ordered(3).Equal(Ordered(3)) {
		t.Error("expected Ordered(3) == Ordered(3)")
	}
}

func Test_out_of_order_is_unordered(t *testing.T) {
	ooo := OutOfOrder()
	ord := Ordered(0)

	if ooo.Less(ord) || ord.Less(ooo) {
		t.Error("expected no ordering between OutOfOrder and Ordered")
	}
	if ooo.Greater(ord) || ord.Greater(ooo) {
		t.Error("expected no ordering between OutOfOrder and Ordered")
	}
	if !ooo.Equal(OutOfOrder()) {
		t.Error("expected two OutOfOrder values to be equal")
	}
	if ooo.Equal(ord) {
		t.Error("did not expect OutOfOrder to equal Ordered")
	}
}

func Test_next_is_idempotent_on_out_of_order(t *testing.T) {
	ooo := OutOfOrder()
	if !ooo.Next().Equal(ooo) {
		t.Error("expected Next on OutOfOrder to be a no-op")
	}

	ord := Ordered(4)
	if ord.Next().Value() != 5 {
		t.Errorf("expected Next on Ordered(4) to be Ordered(5), got %v", ord.Next())
	}
}

func Test_wire_round_trip(t *testing.T) {
	cases := []SequenceNumber{Ordered(0), Ordered(5), Ordered(1 << 40), OutOfOrder()}
	for _, c := range cases {
		var buf bytes.Buffer
		if _, err := c.WriteTo(&buf); err != nil {
			t.Fatalf("WriteTo: %v", err)
		}
		var got SequenceNumber
		if _, err := got.ReadFrom(&buf); err != nil {
			t.Fatalf("ReadFrom: %v", err)
		}
		if !got.Equal(c) {
			t.Errorf("round trip mismatch: want %v got %v", c, got)
		}
	}
}

func Test_json_round_trip(t *testing.T) {
	cases := []SequenceNumber{Ordered(0), Ordered(5), OutOfOrder()}
	for _, c := range cases {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var got SequenceNumber
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if !got.Equal(c) {
			t.Errorf("json round trip mismatch: want %v got %v", c, got)
		}
	}
}
