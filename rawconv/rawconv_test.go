package rawconv

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsorvik/go-fujiraw/log"
	"github.com/jsorvik/go-fujiraw/profile"
	"github.com/jsorvik/go-fujiraw/ptp"
)

// fakeCamera records the calls the converter makes. Object listings
// are played back from handleBatches, one batch per poll.
type fakeCamera struct {
	calls []string

	uploaded      bytes.Buffer
	uploadInfo    ptp.ObjectInfo
	setProfile    []byte
	handleBatches [][]uint32
	pollCount     int
	object        []byte
	deleted       []uint32

	failOn map[string]error
}

func (f *fakeCamera) fail(op string) error {
	if err, ok := f.failOn[op]; ok {
		return err
	}
	return nil
}

func (f *fakeCamera) Configure() error {
	f.calls = append(f.calls, "Configure")
	return f.fail("Configure")
}

func (f *fakeCamera) CloseSession() error {
	f.calls = append(f.calls, "CloseSession")
	return f.fail("CloseSession")
}

func (f *fakeCamera) FujiSendObjectInfo(info *ptp.ObjectInfo) error {
	f.calls = append(f.calls, "FujiSendObjectInfo")
	f.uploadInfo = *info
	return f.fail("FujiSendObjectInfo")
}

func (f *fakeCamera) FujiSendObject(r io.Reader, size int64) error {
	f.calls = append(f.calls, "FujiSendObject")
	io.Copy(&f.uploaded, r)
	return f.fail("FujiSendObject")
}

func (f *fakeCamera) FujiGetRawConvProfile() ([]byte, error) {
	f.calls = append(f.calls, "FujiGetRawConvProfile")
	blob, err := profile.Build("", nil)
	if err != nil {
		return nil, err
	}
	return blob, f.fail("FujiGetRawConvProfile")
}

func (f *fakeCamera) FujiSetRawConvProfile(p []byte) error {
	f.calls = append(f.calls, "FujiSetRawConvProfile")
	f.setProfile = p
	return f.fail("FujiSetRawConvProfile")
}

func (f *fakeCamera) FujiStartRawConversion() error {
	f.calls = append(f.calls, "FujiStartRawConversion")
	return f.fail("FujiStartRawConversion")
}

func (f *fakeCamera) GetObjectHandles(storageID, objFormatCode, parent uint32, info *ptp.Uint32Array) error {
	f.calls = append(f.calls, "GetObjectHandles")
	if f.pollCount < len(f.handleBatches) {
		info.Values = f.handleBatches[f.pollCount]
	} else {
		info.Values = nil
	}
	f.pollCount++
	return f.fail("GetObjectHandles")
}

func (f *fakeCamera) GetObject(handle uint32, w io.Writer) error {
	f.calls = append(f.calls, "GetObject")
	w.Write(f.object)
	return f.fail("GetObject")
}

func (f *fakeCamera) DeleteObject(handle uint32) error {
	f.calls = append(f.calls, "DeleteObject")
	f.deleted = append(f.deleted, handle)
	return f.fail("DeleteObject")
}

func testLog() *log.Children {
	parent := logrus.New()
	parent.Out = io.Discard
	return log.PrepareChildren(parent, false, false, false, false)
}

func newTestConverter(cam *fakeCamera) *Converter {
	c := NewConverter(cam, testLog())
	c.SetPollInterval(time.Millisecond)
	c.Deadline = time.Second
	return c
}

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE1, 'x', 'y', 'z'}

func TestConvertSequence(t *testing.T) {
	cam := &fakeCamera{
		handleBatches: [][]uint32{nil, {0x42, 0x43}},
		object:        jpegBytes,
	}

	var out bytes.Buffer
	conv := newTestConverter(cam)
	err := conv.Convert(bytes.NewReader([]byte("raw raw raw")), 11,
		map[string]int32{"FilmSimulation": 0xB}, &out)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	want := []string{
		"Configure",
		"FujiSendObjectInfo",
		"FujiSendObject",
		"FujiGetRawConvProfile",
		"FujiSetRawConvProfile",
		"FujiStartRawConversion",
		"GetObjectHandles",
		"GetObjectHandles",
		"GetObject",
		"DeleteObject",
		"CloseSession",
	}
	if len(cam.calls) != len(want) {
		t.Fatalf("calls %v, want %v", cam.calls, want)
	}
	for i := range want {
		if cam.calls[i] != want[i] {
			t.Errorf("call %d: %s, want %s", i, cam.calls[i], want[i])
		}
	}

	if cam.uploaded.String() != "raw raw raw" {
		t.Errorf("uploaded %q", cam.uploaded.String())
	}
	if cam.uploadInfo.ObjectFormat != ptp.OFC_FUJI_RAF ||
		cam.uploadInfo.Filename != ptp.FujiUploadFilename {
		t.Errorf("upload info %+v", cam.uploadInfo)
	}

	// The first handle of the first non-empty listing is the result.
	if len(cam.deleted) != 1 || cam.deleted[0] != 0x42 {
		t.Errorf("deleted %v, want [0x42]", cam.deleted)
	}
	if !bytes.Equal(out.Bytes(), jpegBytes) {
		t.Errorf("output %x", out.Bytes())
	}

	p, err := profile.Parse(cam.setProfile)
	if err != nil {
		t.Fatalf("pushed profile does not parse: %v", err)
	}
	if p.Values["FilmSimulation"] != 0xB {
		t.Errorf("pushed FilmSimulation %d, want 0xB", p.Values["FilmSimulation"])
	}
}

func TestValidationBeforeDevice(t *testing.T) {
	cam := &fakeCamera{}
	conv := newTestConverter(cam)

	err := conv.Convert(bytes.NewReader(nil), 0,
		map[string]int32{"ShadowTone": 5}, io.Discard)
	if err == nil {
		t.Fatal("out-of-range ShadowTone accepted")
	}
	if len(cam.calls) != 0 {
		t.Errorf("camera touched before validation: %v", cam.calls)
	}
}

func TestSessionClosedOnFailure(t *testing.T) {
	cam := &fakeCamera{
		failOn: map[string]error{"FujiStartRawConversion": errors.New("boom")},
	}
	conv := newTestConverter(cam)

	err := conv.Convert(bytes.NewReader(nil), 0, nil, io.Discard)
	if err == nil {
		t.Fatal("expected trigger failure to surface")
	}
	last := cam.calls[len(cam.calls)-1]
	if last != "CloseSession" {
		t.Errorf("last call %s, want CloseSession", last)
	}
	if cam.pollCount != 0 {
		t.Errorf("polled %d times after a failed trigger", cam.pollCount)
	}
}

func TestCloseErrorDoesNotMaskResult(t *testing.T) {
	cam := &fakeCamera{
		handleBatches: [][]uint32{{0x7}},
		object:        jpegBytes,
		failOn:        map[string]error{"CloseSession": errors.New("already gone")},
	}
	conv := newTestConverter(cam)

	if err := conv.Convert(bytes.NewReader(nil), 0, nil, io.Discard); err != nil {
		t.Fatalf("close-session failure leaked: %v", err)
	}
}

func TestPollTimeout(t *testing.T) {
	cam := &fakeCamera{} // never returns a handle
	conv := newTestConverter(cam)
	conv.SetPollInterval(10 * time.Millisecond)
	conv.Deadline = 100 * time.Millisecond

	start := time.Now()
	err := conv.Convert(bytes.NewReader(nil), 0, nil, io.Discard)
	elapsed := time.Since(start)

	var te TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TimeoutError", err)
	}
	if elapsed < 100*time.Millisecond || elapsed > time.Second {
		t.Errorf("timed out after %s, deadline was 100ms", elapsed)
	}
	if cam.pollCount == 0 {
		t.Error("never polled before timing out")
	}
	last := cam.calls[len(cam.calls)-1]
	if last != "CloseSession" {
		t.Errorf("last call %s, want CloseSession", last)
	}
}

func TestPollErrorSurfaces(t *testing.T) {
	cam := &fakeCamera{
		failOn: map[string]error{"GetObjectHandles": ptp.RCError(0x2002)},
	}
	conv := newTestConverter(cam)

	err := conv.Convert(bytes.NewReader(nil), 0, nil, io.Discard)
	if !errors.Is(err, ptp.RCError(0x2002)) {
		t.Errorf("got %v, want GeneralError", err)
	}
}

func TestCurrentProfileSkipsUploadWithoutSource(t *testing.T) {
	cam := &fakeCamera{}
	conv := newTestConverter(cam)

	blob, err := conv.CurrentProfile(nil, 0)
	if err != nil {
		t.Fatalf("CurrentProfile: %v", err)
	}
	if _, err := profile.Parse(blob); err != nil {
		t.Errorf("profile does not parse: %v", err)
	}

	for _, call := range cam.calls {
		if call == "FujiSendObject" || call == "FujiSendObjectInfo" {
			t.Errorf("unexpected upload call %s", call)
		}
	}
	last := cam.calls[len(cam.calls)-1]
	if last != "CloseSession" {
		t.Errorf("last call %s, want CloseSession", last)
	}
}

func TestCurrentProfileUploads(t *testing.T) {
	cam := &fakeCamera{}
	conv := newTestConverter(cam)

	if _, err := conv.CurrentProfile(bytes.NewReader([]byte("raf")), 3); err != nil {
		t.Fatalf("CurrentProfile: %v", err)
	}
	if cam.uploaded.String() != "raf" {
		t.Errorf("uploaded %q", cam.uploaded.String())
	}
}
