package ptp

import (
	"bytes"
	"testing"
)

func TestPackCommandWire(t *testing.T) {
	c := Container{
		Code:          OC_OpenSession,
		TransactionID: 0,
		Param:         []uint32{0x00010203},
	}
	got, err := packContainer(USB_CONTAINER_COMMAND, &c, nil)
	if err != nil {
		t.Fatalf("pack error: %v", err)
	}

	want := parseHex(`1000 0000 0100 0210 0000 0000 0302 0100`)
	if err := diffIndex(got, want); err != nil {
		t.Error(err)
	}
}

func TestContainerRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     uint16
		c       Container
		payload []byte
	}{
		{"response no params", USB_CONTAINER_RESPONSE, Container{Code: RC_OK, TransactionID: 7}, nil},
		{"response full params", USB_CONTAINER_RESPONSE,
			Container{Code: RC_OK, TransactionID: 9, Param: []uint32{1, 2, 3, 4, 5}}, nil},
		{"data empty", USB_CONTAINER_DATA, Container{Code: OC_GetObject, TransactionID: 3}, []byte{}},
		{"data payload", USB_CONTAINER_DATA, Container{Code: OC_GetObject, TransactionID: 4},
			[]byte{0xff, 0xd8, 0xff, 0xe1}},
	}

	for _, tc := range cases {
		wire, err := packContainer(tc.typ, &tc.c, tc.payload)
		if err != nil {
			t.Fatalf("%s: pack error: %v", tc.name, err)
		}

		typ, c, payload, err := unpackContainer(wire)
		if err != nil {
			t.Fatalf("%s: unpack error: %v", tc.name, err)
		}
		if typ != tc.typ {
			t.Errorf("%s: type got %d want %d", tc.name, typ, tc.typ)
		}
		if c.Code != tc.c.Code || c.TransactionID != tc.c.TransactionID {
			t.Errorf("%s: header got %+v want %+v", tc.name, c, tc.c)
		}
		if len(c.Param) != len(tc.c.Param) {
			t.Errorf("%s: params got %v want %v", tc.name, c.Param, tc.c.Param)
		}
		for i := range tc.c.Param {
			if c.Param[i] != tc.c.Param[i] {
				t.Errorf("%s: param %d got %x want %x", tc.name, i, c.Param[i], tc.c.Param[i])
			}
		}
		if !bytes.Equal(payload, tc.payload) {
			t.Errorf("%s: payload got %x want %x", tc.name, payload, tc.payload)
		}
	}
}

func TestPackRejectsBadContainers(t *testing.T) {
	c := Container{Code: OC_OpenSession, Param: []uint32{1, 2, 3, 4, 5, 6}}
	if _, err := packContainer(USB_CONTAINER_COMMAND, &c, nil); err == nil {
		t.Error("expected error for 6 params")
	}

	c = Container{Code: OC_GetObject, Param: []uint32{1}}
	if _, err := packContainer(USB_CONTAINER_DATA, &c, []byte{1}); err == nil {
		t.Error("expected error for data container with params")
	}
}

func TestUnpackRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"short", []byte{0x0c, 0x00, 0x00}},
		{"length mismatch", parseHex(`2000 0000 0300 0120 0000 0000`)},
		{"inbound command", parseHex(`0c00 0000 0100 0210 0000 0000`)},
		{"unknown type", parseHex(`0c00 0000 0900 0120 0000 0000`)},
		{"ragged response params", parseHex(`0e00 0000 0300 0120 0000 0000 0102`)},
	}

	for _, tc := range cases {
		_, _, _, err := unpackContainer(tc.data)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if _, ok := err.(SyncError); !ok {
			t.Errorf("%s: got %T, want SyncError", tc.name, err)
		}
	}
}
