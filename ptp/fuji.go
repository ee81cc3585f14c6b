package ptp

import (
	"bytes"
	"io"
)

// Fujifilm vendor extensions, as used by the in-camera raw conversion
// service. The camera exposes the converter as a device property pair:
// a profile blob describing the development settings, and a trigger
// property that starts the job on the most recently uploaded raw file.

const FujiVendorID = 0x04cb

// FujiProductIDs maps the USB product IDs of supported bodies to
// their marketing names.
var FujiProductIDs = map[uint16]string{
	0x02e3: "X-T30",
	0x02e5: "X-T3",
	0x02e7: "X-T4",
}

// Like SendObjectInfo, but places the object in camera work memory
// rather than on a storage.
const OC_FUJI_SendObjectInfo = 0x900C

// Like SendObject, for an object announced with FUJI_SendObjectInfo.
const OC_FUJI_SendObject = 0x900D

// Writing a zero uint16 starts conversion of the uploaded raw file.
const DPC_FUJI_StartRawConversion = 0xD183

// The development profile blob applied by the next conversion.
const DPC_FUJI_RawConvProfile = 0xD185

// Object format of Fujifilm raw files in upload metadata.
const OFC_FUJI_RAF = 0xF802

// The firmware only accepts uploads under this name.
const FujiUploadFilename = "FUP_FILE.dat"

func init() {
	OC_names[0x900C] = "FUJI_SendObjectInfo"
	OC_names[0x900D] = "FUJI_SendObject"
	OFC_names[0xF802] = "FUJI_RAF"
}

var DPC_names = map[int]string{
	0xD183: "FUJI_StartRawConversion",
	0xD185: "FUJI_RawConvProfile",
}

// FujiUploadObjectInfo describes a raw file upload of the given size.
// Everything except format, size and name stays zero; the camera
// ignores placement for work-memory uploads.
func FujiUploadObjectInfo(size uint32) ObjectInfo {
	return ObjectInfo{
		ObjectFormat:   OFC_FUJI_RAF,
		CompressedSize: size,
		Filename:       FujiUploadFilename,
	}
}

func (d *Device) FujiSendObjectInfo(info *ObjectInfo) error {
	var req, rep Container
	req.Code = OC_FUJI_SendObjectInfo
	req.Param = []uint32{0x0, 0x0, 0x0}

	buf := &bytes.Buffer{}
	if err := Encode(buf, info); err != nil {
		return err
	}
	return d.RunTransaction(&req, &rep, nil, buf, int64(buf.Len()))
}

func (d *Device) FujiSendObject(r io.Reader, size int64) error {
	var req, rep Container
	req.Code = OC_FUJI_SendObject
	return d.RunTransaction(&req, &rep, nil, r, size)
}

// FujiGetRawConvProfile reads the current profile blob. The layout
// varies per model, so the bytes come back raw.
func (d *Device) FujiGetRawConvProfile() ([]byte, error) {
	var req, rep Container
	req.Code = OC_GetDevicePropValue
	req.Param = []uint32{DPC_FUJI_RawConvProfile}

	var buf bytes.Buffer
	if err := d.RunTransaction(&req, &rep, &buf, nil, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Device) FujiSetRawConvProfile(profile []byte) error {
	var req, rep Container
	req.Code = OC_SetDevicePropValue
	req.Param = []uint32{DPC_FUJI_RawConvProfile}

	r := bytes.NewReader(profile)
	return d.RunTransaction(&req, &rep, nil, r, int64(len(profile)))
}

// FujiStartRawConversion kicks off development of the uploaded raw
// file with the profile set before.
func (d *Device) FujiStartRawConversion() error {
	return d.SetDevicePropValue(DPC_FUJI_StartRawConversion, &Uint16Value{})
}
