// Package rawconv drives the camera's raw conversion service end to
// end: upload a raw file, push a development profile, start the job,
// poll for the produced JPEG, fetch it and clean up. The protocol
// mechanics live in ptp, the profile bytes in profile; this package
// only knows the workflow.
package rawconv

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jsorvik/go-fujiraw/log"
	"github.com/jsorvik/go-fujiraw/profile"
	"github.com/jsorvik/go-fujiraw/ptp"
)

// Camera is the slice of the PTP device surface the converter drives.
// *ptp.Device implements it; tests substitute a fake.
type Camera interface {
	Configure() error
	CloseSession() error
	FujiSendObjectInfo(info *ptp.ObjectInfo) error
	FujiSendObject(r io.Reader, size int64) error
	FujiGetRawConvProfile() ([]byte, error)
	FujiSetRawConvProfile(p []byte) error
	FujiStartRawConversion() error
	GetObjectHandles(storageID, objFormatCode, parent uint32, info *ptp.Uint32Array) error
	GetObject(handle uint32, w io.Writer) error
	DeleteObject(handle uint32) error
}

// TimeoutError reports that the camera produced no result before the
// polling deadline. The conversion may still be running; the
// connection itself is fine.
type TimeoutError struct {
	Waited time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("no converted image after %s", e.Waited)
}

// Observer receives progress while a conversion runs. All methods are
// called from the converting goroutine.
type Observer interface {
	// Step announces entering a workflow step.
	Step(name string)
	// Transfer reports bytes moved within the current step.
	Transfer(n int)
	// Result delivers the converted JPEG.
	Result(jpeg []byte)
}

type noopObserver struct{}

func (noopObserver) Step(string)   {}
func (noopObserver) Transfer(int)  {}
func (noopObserver) Result([]byte) {}

const (
	// DefaultInterval is the pause between result polls.
	DefaultInterval = time.Second
	// DefaultDeadline bounds the whole result wait.
	DefaultDeadline = 30 * time.Second

	// The poll enumerates every object the camera exposes; the work
	// area holds at most the one conversion result.
	storageAll = 0xFFFFFFFF
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// Converter runs conversions against one camera. It is not safe for
// concurrent use; the protocol allows one outstanding command anyway.
type Converter struct {
	cam  Camera
	tick *MutableTicker

	// Deadline bounds the wait for a conversion result.
	Deadline time.Duration

	// Observer, when set, receives progress callbacks.
	Observer Observer

	log *log.Children
}

func NewConverter(cam Camera, lg *log.Children) *Converter {
	return &Converter{
		cam:      cam,
		tick:     NewMutableTicker(DefaultInterval),
		Deadline: DefaultDeadline,
		Observer: noopObserver{},
		log:      lg,
	}
}

// SetPollInterval changes the result poll pace, also mid-poll.
func (c *Converter) SetPollInterval(d time.Duration) {
	c.tick.SetInterval(d)
}

// Convert runs the whole workflow: upload src, apply changes on top of
// the default profile, convert, and write the produced JPEG to out.
// The parameter changes are validated before the camera is touched.
// The session is closed on every path once it was opened.
func (c *Converter) Convert(src io.Reader, size int64, changes map[string]int32, out io.Writer) error {
	// Building the profile up front keeps bad parameters from ever
	// reaching the camera.
	blob, err := profile.Build("", changes)
	if err != nil {
		return err
	}

	if err := c.cam.Configure(); err != nil {
		return err
	}
	defer c.closeSession()

	if err := c.upload(src, size); err != nil {
		return err
	}

	c.Observer.Step("profile")
	current, err := c.cam.FujiGetRawConvProfile()
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}
	c.logProfile(current)

	if err := c.cam.FujiSetRawConvProfile(blob); err != nil {
		return fmt.Errorf("setting profile: %w", err)
	}

	c.Observer.Step("convert")
	c.log.Conv.Infof("starting conversion")
	if err := c.cam.FujiStartRawConversion(); err != nil {
		return fmt.Errorf("starting conversion: %w", err)
	}

	handle, err := c.waitForResult()
	if err != nil {
		return err
	}

	return c.download(handle, out)
}

// CurrentProfile opens a session and reads the conversion profile the
// camera holds. With src non-nil the raw file is uploaded first, which
// makes the camera load that file's shooting parameters.
func (c *Converter) CurrentProfile(src io.Reader, size int64) ([]byte, error) {
	if err := c.cam.Configure(); err != nil {
		return nil, err
	}
	defer c.closeSession()

	if src != nil {
		if err := c.upload(src, size); err != nil {
			return nil, err
		}
	}
	return c.cam.FujiGetRawConvProfile()
}

func (c *Converter) upload(src io.Reader, size int64) error {
	c.Observer.Step("upload")
	c.log.Conv.Infof("uploading raw file, %d bytes", size)

	info := ptp.FujiUploadObjectInfo(uint32(size))
	if err := c.cam.FujiSendObjectInfo(&info); err != nil {
		return fmt.Errorf("announcing upload: %w", err)
	}
	if err := c.cam.FujiSendObject(observedReader{src, c.Observer}, size); err != nil {
		return fmt.Errorf("uploading: %w", err)
	}
	return nil
}

// waitForResult polls the object listing until the conversion result
// shows up. The first handle returned is the one taken; ordering
// across polls is not guaranteed, so the choice must not depend on a
// later listing.
func (c *Converter) waitForResult() (uint32, error) {
	c.Observer.Step("poll")

	c.tick.Start()
	defer c.tick.Stop()
	deadline := time.NewTimer(c.Deadline)
	defer deadline.Stop()

	for {
		select {
		case <-c.tick.C:
		case <-deadline.C:
			c.log.Conv.Warningf("gave up waiting after %s", c.Deadline)
			return 0, TimeoutError{Waited: c.Deadline}
		}

		var handles ptp.Uint32Array
		if err := c.cam.GetObjectHandles(storageAll, 0, 0, &handles); err != nil {
			return 0, fmt.Errorf("listing objects: %w", err)
		}
		if len(handles.Values) > 0 {
			c.log.Conv.Infof("conversion finished, %d object(s)", len(handles.Values))
			return handles.Values[0], nil
		}
		c.log.Conv.Debugf("no result yet")
	}
}

// download fetches the result and deletes it from the camera, so the
// work area does not fill up across conversions.
func (c *Converter) download(handle uint32, out io.Writer) error {
	c.Observer.Step("download")

	var buf bytes.Buffer
	if err := c.cam.GetObject(handle, observedWriter{&buf, c.Observer}); err != nil {
		return fmt.Errorf("downloading object 0x%x: %w", handle, err)
	}
	if err := c.cam.DeleteObject(handle); err != nil {
		return fmt.Errorf("deleting object 0x%x: %w", handle, err)
	}

	if !bytes.HasPrefix(buf.Bytes(), jpegMagic) {
		c.log.Conv.Warningf("result does not look like a JPEG (%d bytes)", buf.Len())
	}

	if _, err := out.Write(buf.Bytes()); err != nil {
		return err
	}
	c.log.Conv.Infof("downloaded %d bytes", buf.Len())
	c.Observer.Result(buf.Bytes())
	c.Observer.Step("done")
	return nil
}

// closeSession is teardown: it must not mask an earlier failure, so
// its own errors are logged and dropped.
func (c *Converter) closeSession() {
	if err := c.cam.CloseSession(); err != nil {
		c.log.Conv.Errorf("closing session: %s", err)
	}
}

func (c *Converter) logProfile(blob []byte) {
	c.log.Conv.Debugf("camera profile, %d bytes", len(blob))
	if p, err := profile.Parse(blob); err == nil {
		for _, line := range strings.Split(strings.TrimRight(p.Describe(), "\n"), "\n") {
			c.log.Conv.Debugf("  %s", line)
		}
	}
}

type observedReader struct {
	r   io.Reader
	obs Observer
}

func (o observedReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	if n > 0 {
		o.obs.Transfer(n)
	}
	return n, err
}

type observedWriter struct {
	w   io.Writer
	obs Observer
}

func (o observedWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	if n > 0 {
		o.obs.Transfer(n)
	}
	return n, err
}
