package ptp

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/gousb"

	"github.com/jsorvik/go-fujiraw/log"
)

// RCError are return codes from the Container.Code field.
type RCError uint16

func (e RCError) Error() string {
	n, ok := RC_names[int(e)]
	if ok {
		return n
	}
	return fmt.Sprintf("RetCode %x", uint16(e))
}

// SyncError is an error type that indicates lost transaction
// synchronization in the protocol.
type SyncError string

func (s SyncError) Error() string {
	return string(s)
}

// Catastrophic is an error that invalidates the whole connection.
type Catastrophic string

func (f Catastrophic) Error() string {
	return string(f)
}

// The linux usb stack can send 16kb per call, according to libusb.
const rwBufSize = 0x4000

// DefaultTimeout is the per-transfer timeout in milliseconds.
const DefaultTimeout = 5000

type sessionData struct {
	tid uint32
	sid uint32
}

// Device is an open PTP connection to a camera, talking over a pair
// of USB bulk endpoints.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	sendEP  io.Writer
	fetchEP io.Reader

	sendMaxPacket  int
	fetchMaxPacket int

	// Model is the marketing name matching the USB product ID, or
	// empty if the ID is not a known one.
	Model string

	// Timeout is the per-transfer timeout in milliseconds.
	Timeout int

	session *sessionData
	log     *log.Children
}

// epWriter adapts an OUT endpoint to io.Writer, bounding every
// transfer with the device timeout.
type epWriter struct {
	ep      *gousb.OutEndpoint
	timeout func() time.Duration
}

func (w epWriter) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout())
	defer cancel()
	return w.ep.WriteContext(ctx, p)
}

type epReader struct {
	ep      *gousb.InEndpoint
	timeout func() time.Duration
}

func (r epReader) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
	defer cancel()
	return r.ep.ReadContext(ctx, p)
}

func (d *Device) timeout() time.Duration {
	t := d.Timeout
	if t <= 0 {
		t = DefaultTimeout
	}
	return time.Duration(t) * time.Millisecond
}

func (d *Device) connected() bool {
	return d.sendEP != nil
}

// Close ends the session and releases the USB handles. It is safe to
// call on a partially opened or already closed device.
func (d *Device) Close() error {
	if !d.connected() {
		return nil
	}

	if d.session != nil {
		var req, rep Container
		req.Code = OC_CloseSession
		// Straight to runTransaction: a failure here must not
		// escalate, we are tearing down anyway.
		if err := d.runTransaction(&req, &rep, nil, nil, 0); err != nil {
			d.log.USB.Errorf("failed to close session: %s", err)
		}
		d.session = nil
	}

	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	if d.cfg != nil {
		if err := d.cfg.Close(); err != nil {
			d.log.USB.Errorf("failed to close configuration: %s", err)
		}
		d.cfg = nil
	}
	if d.dev != nil {
		if err := d.dev.Close(); err != nil {
			d.log.USB.Errorf("failed to close device: %s", err)
		}
		d.dev = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Close(); err != nil {
			d.log.USB.Errorf("failed to close usb context: %s", err)
		}
		d.ctx = nil
	}

	d.sendEP = nil
	d.fetchEP = nil
	return nil
}

func (d *Device) sendReq(req *Container) error {
	wire, err := packContainer(USB_CONTAINER_COMMAND, req, nil)
	if err != nil {
		return err
	}

	d.dataPrint("send", wire)
	_, err = d.bulkTransferOut(wire)
	return err
}

// fetchPacket reads one USB packet into dest. An empty packet is read
// through once: some camera stacks terminate an aligned data phase
// with a zero-length packet before the response.
func (d *Device) fetchPacket(dest []byte) ([]byte, error) {
	n, err := d.bulkTransferIn(dest[:d.fetchMaxPacket])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		n, err = d.bulkTransferIn(dest[:d.fetchMaxPacket])
		if err != nil {
			return nil, err
		}
	}
	if n > 0 {
		d.dataPrint("recv", dest[:n])
	}
	return dest[:n], nil
}

func (d *Device) decodeRep(pkt []byte, rep *Container) error {
	typ, c, _, err := unpackContainer(pkt)
	if err != nil {
		return err
	}
	if typ != USB_CONTAINER_RESPONSE {
		return SyncError(fmt.Sprintf("got type %d (%s) in response, want CONTAINER_RESPONSE.",
			typ, getName(USB_names, int(typ))))
	}

	rep.Code = c.Code
	rep.TransactionID = c.TransactionID
	rep.Param = c.Param

	if rep.Code != RC_OK {
		return RCError(rep.Code)
	}
	return nil
}

func (d *Device) RunTransactionWithNoParams(code uint16) error {
	var req, rep Container
	req.Code = code
	req.Param = []uint32{}
	return d.RunTransaction(&req, &rep, nil, nil, 0)
}

// RunTransaction runs a single PTP transaction. dest and src cannot
// be specified at the same time. The request should fill out Code and
// Param as necessary. The response is provided here, but usually only
// the return code is of interest. If the return code is an error,
// this function will return an RCError instance.
//
// Errors that invalidate the connection for future transactions are
// returned as Catastrophic. Such errors include invalid transaction
// IDs, USB transfer failures, and receiving data for operations that
// expect none.
func (d *Device) RunTransaction(req *Container, rep *Container,
	dest io.Writer, src io.Reader, writeSize int64) error {
	if err := d.runTransaction(req, rep, dest, src, writeSize); err != nil {
		switch err.(type) {
		case SyncError, gousb.Error, gousb.TransferStatus:
			return Catastrophic(fmt.Sprintf("fatal error: %s", err))
		}
		if err == context.DeadlineExceeded {
			return Catastrophic(fmt.Sprintf("fatal error: %s", err))
		}
		return err
	}
	return nil
}

// runTransaction is like RunTransaction, but without the error
// escalation before and after the call.
func (d *Device) runTransaction(req *Container, rep *Container,
	dest io.Writer, src io.Reader, writeSize int64) error {
	if d.session != nil {
		req.SessionID = d.session.sid
		req.TransactionID = d.session.tid
		d.session.tid++
	}

	d.log.PTP.Debugf("request %s %v", getName(OC_names, int(req.Code)), req.Param)

	if err := d.sendReq(req); err != nil {
		d.log.PTP.Debugf("sendreq failed: %v", err)
		return err
	}

	if src != nil {
		hdr := usbBulkHeader{
			Type:          USB_CONTAINER_DATA,
			Code:          req.Code,
			TransactionID: req.TransactionID,
		}

		if _, err := d.bulkWrite(&hdr, src, writeSize); err != nil {
			return err
		}
	}

	data := make([]byte, d.fetchMaxPacket)
	pkt, err := d.fetchPacket(data)
	if err != nil {
		return err
	}
	if len(pkt) < usbHdrLen {
		return SyncError(fmt.Sprintf("short packet: 0x%x bytes", len(pkt)))
	}
	var h usbBulkHeader
	if err := binary.Read(bytes.NewReader(pkt), byteOrder, &h); err != nil {
		return err
	}

	var unexpectedData bool
	if h.Type == USB_CONTAINER_DATA {
		if dest == nil {
			dest = &NullWriter{}
			unexpectedData = true
			d.log.PTP.Debugf("discarding unexpected data 0x%x bytes", h.Length)
		}
		d.log.PTP.Debugf("data 0x%x bytes", h.Length)

		if h.Length > maxContainerSize {
			return SyncError(fmt.Sprintf("data container of 0x%x bytes exceeds limit", h.Length))
		}
		if int(h.Length) < len(pkt) {
			return SyncError(fmt.Sprintf("data container declares 0x%x bytes but carries 0x%x",
				h.Length, len(pkt)))
		}

		if _, err := dest.Write(pkt[usbHdrLen:]); err != nil {
			return err
		}
		// The header declared the full container size. Read until
		// exactly that many bytes have arrived, whatever the USB
		// packetization looks like.
		if pending := int64(h.Length) - int64(len(pkt)); pending > 0 {
			if _, err := d.bulkRead(dest, pending); err != nil {
				return err
			}
		}

		pkt, err = d.fetchPacket(data)
		if err != nil {
			return err
		}
	}

	err = d.decodeRep(pkt, rep)
	d.log.PTP.Debugf("response %s %v", getName(RC_names, int(rep.Code)), rep.Param)
	if unexpectedData {
		return SyncError(fmt.Sprintf("unexpected data for code %s", getName(OC_names, int(req.Code))))
	}

	if err != nil {
		return err
	}
	if d.session != nil && rep.TransactionID != req.TransactionID {
		return SyncError(fmt.Sprintf("transaction ID mismatch got %x want %x",
			rep.TransactionID, req.TransactionID))
	}
	rep.SessionID = req.SessionID
	return nil
}

// Prints data going over the USB connection.
func (d *Device) dataPrint(dir string, data []byte) {
	if !d.log.Data.IsDebug() {
		return
	}
	d.log.Data.Debugf("%s 0x%x bytes:", dir, len(data))
	hexDump(data)
}

// bulkWrite sends one data container: the header and the first
// payload slice share the opening packet, the rest goes out in
// rwBufSize chunks. Returns the number of non-header bytes written.
func (d *Device) bulkWrite(hdr *usbBulkHeader, r io.Reader, size int64) (n int64, err error) {
	packetSize := d.sendMaxPacket
	var lastTransfer int
	if hdr != nil {
		if size+usbHdrLen > 0xFFFFFFFF {
			hdr.Length = 0xFFFFFFFF
		} else {
			hdr.Length = uint32(size + usbHdrLen)
		}

		packet := make([]byte, packetSize)
		buf := bytes.NewBuffer(packet[:0])
		binary.Write(buf, byteOrder, hdr)
		cpSize := int64(len(packet) - usbHdrLen)
		if cpSize > size {
			cpSize = size
		}

		if _, err = io.CopyN(buf, r, cpSize); err != nil {
			return 0, err
		}
		d.dataPrint("send", buf.Bytes())
		lastTransfer, err = d.bulkTransferOut(buf.Bytes())
		if err != nil {
			return cpSize, err
		}
		size -= cpSize
		n += cpSize
	}

	var buf [rwBufSize]byte
	for size > 0 {
		var m int
		toread := buf[:]
		if int64(len(toread)) > size {
			toread = buf[:int(size)]
		}

		m, err = io.ReadFull(r, toread)
		if err != nil {
			break
		}
		size -= int64(m)

		d.dataPrint("send", buf[:m])
		lastTransfer, err = d.bulkTransferOut(buf[:m])
		n += int64(lastTransfer)

		if err != nil || lastTransfer == 0 {
			break
		}
	}
	if err == nil && lastTransfer%packetSize == 0 {
		// The container ended on a packet boundary. Write a
		// zero-length packet so the camera sees the end.
		_, err = d.bulkTransferOut(buf[:0])
	}

	return n, err
}

// bulkRead drains the remainder of an inbound data phase. The
// container header declared the total, so the loop consumes exactly
// size bytes and then stops.
func (d *Device) bulkRead(w io.Writer, size int64) (int64, error) {
	var buf [rwBufSize]byte
	var n int64
	for size > 0 {
		toread := buf[:]
		if int64(len(toread)) > size {
			toread = buf[:int(size)]
		}
		m, err := d.bulkTransferIn(toread)
		if m > 0 {
			d.dataPrint("recv", buf[:m])
			if _, werr := w.Write(buf[:m]); werr != nil {
				return n, werr
			}
			n += int64(m)
			size -= int64(m)
		}
		d.log.PTP.Debugf("bulk read 0x%x bytes", m)
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, SyncError(fmt.Sprintf("data phase stalled with 0x%x bytes pending", size))
		}
	}
	return n, nil
}

func (d *Device) bulkTransferIn(buf []byte) (int, error) {
	return d.fetchEP.Read(buf)
}

func (d *Device) bulkTransferOut(buf []byte) (int, error) {
	return d.sendEP.Write(buf)
}

// Configure opens the session. A camera that kept a session from a
// client that died without closing it answers SessionAlreadyOpened;
// in that case the stale session is closed and the open is retried
// once.
func (d *Device) Configure() error {
	err := d.OpenSession()
	if err == RCError(RC_SessionAlreadyOpened) {
		d.log.PTP.Infof("session already open, closing stale session")
		// Closing works even without a valid transaction ID.
		d.CloseSession()
		err = d.OpenSession()
	}

	if err != nil {
		return fmt.Errorf("OpenSession: %w", err)
	}
	return nil
}
