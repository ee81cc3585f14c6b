package ptp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// maxContainerSize bounds a single inbound container. A corrupt or
// hostile length field must not make the reassembly loop allocate
// without limit.
const maxContainerSize = 100 * 1024 * 1024

// packContainer produces the exact bulk wire bytes for one container:
// length, type, code, transaction id, up to 5 parameters, payload.
// Data containers carry payload and no parameters.
func packContainer(typ uint16, c *Container, payload []byte) ([]byte, error) {
	if len(c.Param) > 5 {
		return nil, fmt.Errorf("ptp: container has %d params, max is 5", len(c.Param))
	}
	if typ == USB_CONTAINER_DATA && len(c.Param) > 0 {
		return nil, fmt.Errorf("ptp: data container cannot carry params")
	}

	h := usbBulkHeader{
		Length:        uint32(usbHdrLen + 4*len(c.Param) + len(payload)),
		Type:          typ,
		Code:          c.Code,
		TransactionID: c.TransactionID,
	}

	buf := bytes.NewBuffer(make([]byte, 0, int(h.Length)))
	binary.Write(buf, byteOrder, &h)
	if err := binary.Write(buf, byteOrder, c.Param); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// unpackContainer parses one complete container. The declared length
// must match len(data) exactly. Inbound Command containers are never
// valid: the initiator is the only side that sends them.
func unpackContainer(data []byte) (typ uint16, c Container, payload []byte, err error) {
	if len(data) < usbHdrLen {
		return 0, c, nil, SyncError(fmt.Sprintf("container too short: %d bytes", len(data)))
	}

	var h usbBulkHeader
	if err := binary.Read(bytes.NewReader(data[:usbHdrLen]), byteOrder, &h); err != nil {
		return 0, c, nil, err
	}
	if int(h.Length) != len(data) {
		return 0, c, nil, SyncError(fmt.Sprintf("container length %d does not match %d bytes read",
			h.Length, len(data)))
	}

	c.Code = h.Code
	c.TransactionID = h.TransactionID
	rest := data[usbHdrLen:]

	switch h.Type {
	case USB_CONTAINER_DATA:
		payload = rest
	case USB_CONTAINER_RESPONSE, USB_CONTAINER_EVENT:
		if len(rest) > 5*4 || len(rest)%4 != 0 {
			return 0, c, nil, SyncError(fmt.Sprintf("%s with malformed param block of %d bytes",
				getName(USB_names, int(h.Type)), len(rest)))
		}
		for i := 0; i < len(rest)/4; i++ {
			c.Param = append(c.Param, byteOrder.Uint32(rest[4*i:]))
		}
	case USB_CONTAINER_COMMAND:
		return 0, c, nil, SyncError("received a command container")
	default:
		return 0, c, nil, SyncError(fmt.Sprintf("unknown container type %d", h.Type))
	}

	return h.Type, c, payload, nil
}
