// Package ptp implements the subset of PTP (Picture Transfer
// Protocol) over USB bulk endpoints needed to drive Fujifilm's
// in-camera RAW conversion service. Beyond the communication
// primitive it implements the standard operations in ops.go and the
// Fujifilm vendor extension in fuji.go.
package ptp

import (
	"io"
	"time"
)

// Container is the data type for sending/receiving PTP requests and
// responses. Data-phase payload bytes are streamed separately; see
// Device.RunTransaction.
type Container struct {
	Code          uint16
	SessionID     uint32
	TransactionID uint32
	Param         []uint32
}

type DeviceInfo struct {
	StandardVersion           uint16
	MTPVendorExtensionID      uint32
	MTPVersion                uint16
	MTPExtension              string
	FunctionalMode            uint16
	OperationsSupported       []uint16
	EventsSupported           []uint16
	DevicePropertiesSupported []uint16
	CaptureFormats            []uint16
	PlaybackFormats           []uint16
	Manufacturer              string
	Model                     string
	DeviceVersion             string
	SerialNumber              string
}

// DataTypeSelector is the special type to indicate the actual type of
// fields of DataDependentType.
type DataTypeSelector uint16
type DataDependentType interface{}

// The Decoder interface is for types that need special decoding
// support, eg. the ones using DataDependentType.
type Decoder interface {
	Decode(r io.Reader) error
}

type Encoder interface {
	Encode(w io.Writer) error
}

type PropDescRangeForm struct {
	MinimumValue DataDependentType
	MaximumValue DataDependentType
	StepSize     DataDependentType
}

type PropDescEnumForm struct {
	Values []DataDependentType
}

type DevicePropDescFixed struct {
	DevicePropertyCode  uint16
	DataType            DataTypeSelector
	GetSet              uint8
	FactoryDefaultValue DataDependentType
	CurrentValue        DataDependentType
	FormFlag            uint8
}

type DevicePropDesc struct {
	DevicePropDescFixed
	Form interface{}
}

type Uint32Array struct {
	Values []uint32
}

type Uint16Array struct {
	Values []uint16
}

type Uint16Value struct {
	Value uint16
}

type StringValue struct {
	Value string
}

// ObjectInfo is the standard PTP object description record. The
// field order matches the wire layout; Encode/Decode walk it with
// reflection.
type ObjectInfo struct {
	StorageID           uint32
	ObjectFormat        uint16
	ProtectionStatus    uint16
	CompressedSize      uint32
	ThumbFormat         uint16
	ThumbCompressedSize uint32
	ThumbPixWidth       uint32
	ThumbPixHeight      uint32
	ImagePixWidth       uint32
	ImagePixHeight      uint32
	ImageBitDepth       uint32
	ParentObject        uint32
	AssociationType     uint16
	AssociationDesc     uint32
	SequenceNumber      uint32
	Filename            string
	CaptureDate         time.Time
	ModificationDate    time.Time
	Keywords            string
}

// USB stuff.

type usbBulkHeader struct {
	Length        uint32
	Type          uint16
	Code          uint16
	TransactionID uint32
}

const usbHdrLen = 2*2 + 2*4
