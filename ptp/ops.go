package ptp

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
)

// OpenSession opens a session, which is necessary for any command that
// queries or modifies storage. It is an error to open a session twice.
func (d *Device) OpenSession() error {
	if d.session != nil {
		return fmt.Errorf("session already open")
	}
	var req, rep Container
	req.Code = OC_OpenSession

	// avoid 0xFFFFFFFF and 0x00000000 for session IDs.
	sid := uint32(rand.Int31()) | 1
	req.Param = []uint32{sid} // session
	err := d.RunTransaction(&req, &rep, nil, nil, 0)
	if err != nil {
		return err
	}

	d.session = &sessionData{
		tid: 1,
		sid: sid,
	}
	return nil
}

// Closes a session. This is done automatically if the device is closed.
func (d *Device) CloseSession() error {
	var req, rep Container
	req.Code = OC_CloseSession
	err := d.RunTransaction(&req, &rep, nil, nil, 0)
	d.session = nil
	return err
}

func (d *Device) GetDeviceInfo(info *DeviceInfo) error {
	var req, rep Container

	req.Code = OC_GetDeviceInfo
	var buf bytes.Buffer
	err := d.RunTransaction(&req, &rep, &buf, nil, 0)
	if err != nil {
		return err
	}
	return Decode(&buf, info)
}

func (d *Device) GetStorageIDs(info *Uint32Array) error {
	var req, rep Container
	req.Code = OC_GetStorageIDs
	var buf bytes.Buffer
	err := d.RunTransaction(&req, &rep, &buf, nil, 0)
	if err != nil {
		return err
	}
	return Decode(&buf, info)
}

func (d *Device) GetDevicePropDesc(propCode uint16, info *DevicePropDesc) error {
	var req, rep Container
	req.Code = OC_GetDevicePropDesc
	req.Param = append(req.Param, uint32(propCode))

	var buf bytes.Buffer
	err := d.RunTransaction(&req, &rep, &buf, nil, 0)
	if err != nil {
		return err
	}

	return info.Decode(&buf)
}

func (d *Device) SetDevicePropValue(propCode uint32, src interface{}) error {
	var req, rep Container
	req.Code = OC_SetDevicePropValue
	req.Param = []uint32{propCode}

	var buf bytes.Buffer
	err := Encode(&buf, src)
	if err != nil {
		return err
	}
	return d.RunTransaction(&req, &rep, nil, &buf, int64(buf.Len()))
}

func (d *Device) GetDevicePropValue(propCode uint32, dest interface{}) error {
	var req, rep Container
	req.Code = OC_GetDevicePropValue
	req.Param = []uint32{propCode}

	var buf bytes.Buffer
	err := d.RunTransaction(&req, &rep, &buf, nil, 0)
	if err != nil {
		return err
	}
	return Decode(&buf, dest)
}

func (d *Device) GetObjectHandles(storageID, objFormatCode, parent uint32, info *Uint32Array) error {
	var req, rep Container
	req.Code = OC_GetObjectHandles
	req.Param = []uint32{storageID, objFormatCode, parent}
	var buf bytes.Buffer
	err := d.RunTransaction(&req, &rep, &buf, nil, 0)
	if err != nil {
		return err
	}
	return Decode(&buf, info)
}

func (d *Device) GetObjectInfo(handle uint32, info *ObjectInfo) error {
	var req, rep Container
	req.Code = OC_GetObjectInfo
	req.Param = []uint32{handle}
	var buf bytes.Buffer
	err := d.RunTransaction(&req, &rep, &buf, nil, 0)
	if err != nil {
		return err
	}
	return Decode(&buf, info)
}

func (d *Device) GetNumObjects(storageID uint32, formatCode uint16, parent uint32) (uint32, error) {
	var req, rep Container
	req.Code = OC_GetNumObjects
	req.Param = []uint32{storageID, uint32(formatCode), parent}
	err := d.RunTransaction(&req, &rep, nil, nil, 0)
	if err != nil {
		return 0, err
	}
	if len(rep.Param) < 1 {
		return 0, SyncError("GetNumObjects response without parameter")
	}
	return rep.Param[0], nil
}

func (d *Device) DeleteObject(handle uint32) error {
	var req, rep Container
	req.Code = OC_DeleteObject
	req.Param = []uint32{handle, 0x0}

	return d.RunTransaction(&req, &rep, nil, nil, 0)
}

func (d *Device) SendObjectInfo(wantStorageID, wantParent uint32, info *ObjectInfo) (storageID, parent, handle uint32, err error) {
	var req, rep Container
	req.Code = OC_SendObjectInfo
	req.Param = []uint32{wantStorageID, wantParent}

	buf := &bytes.Buffer{}
	err = Encode(buf, info)
	if err != nil {
		return
	}

	err = d.RunTransaction(&req, &rep, nil, buf, int64(buf.Len()))
	if err != nil {
		return
	}
	if len(rep.Param) < 3 {
		err = SyncError("SendObjectInfo response without handle parameters")
		return
	}

	return rep.Param[0], rep.Param[1], rep.Param[2], nil
}

func (d *Device) SendObject(r io.Reader, size int64) error {
	var req, rep Container
	req.Code = OC_SendObject
	return d.RunTransaction(&req, &rep, nil, r, size)
}

func (d *Device) GetObject(handle uint32, w io.Writer) error {
	var req, rep Container
	req.Code = OC_GetObject
	req.Param = []uint32{handle}

	return d.RunTransaction(&req, &rep, w, nil, 0)
}
