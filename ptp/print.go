package ptp

import (
	"fmt"
	"os"
	"strings"
)

func getName(m map[int]string, val int) string {
	n, ok := m[val]
	if !ok {
		n = fmt.Sprintf("0x%x", val)
	}
	return n
}

func getNames(m map[int]string, vals []uint16) string {
	r := []string{}
	for _, v := range vals {
		r = append(r, getName(m, int(v)))
	}
	return strings.Join(r, ", ")
}

func hexDump(data []byte) {
	i := 0
	for i < len(data) {
		next := i + 16
		if next > len(data) {
			next = len(data)
		}
		fmt.Fprintf(os.Stderr, "%04x: % x\n", i, data[i:next])
		i = next
	}
}

func (i *DeviceInfo) String() string {
	return fmt.Sprintf("stdv: %x, ext: %x, mtp: v%x, mtp ext: %q fmod: %x ops: %s evs: %s "+
		"dprops: %s fmts: %s capfmts: %s manu: %q model: %q devv: %q serno: %q",
		i.StandardVersion,
		i.MTPVendorExtensionID,
		i.MTPVersion,
		i.MTPExtension,
		i.FunctionalMode,
		getNames(OC_names, i.OperationsSupported),
		getNames(EC_names, i.EventsSupported),
		getNames(DPC_names, i.DevicePropertiesSupported),
		getNames(OFC_names, i.CaptureFormats),
		getNames(OFC_names, i.PlaybackFormats),

		i.Manufacturer,
		i.Model,
		i.DeviceVersion,
		i.SerialNumber)
}
