package ptp

import (
	"fmt"
	"strings"

	"github.com/google/gousb"

	"github.com/jsorvik/go-fujiraw/log"
)

// FoundDevice describes a supported camera seen on the bus, without
// opening it.
type FoundDevice struct {
	VendorID  uint16
	ProductID uint16
	Model     string
	Bus       int
	Address   int
}

func (f FoundDevice) String() string {
	return fmt.Sprintf("%04x:%04x %s (bus %d, addr %d)",
		f.VendorID, f.ProductID, f.Model, f.Bus, f.Address)
}

// epSet is the endpoint triple of a PTP alt setting.
type epSet struct {
	config, iface, alt int
	send, fetch, event gousb.EndpointDesc
}

// findEndpoints locates the alt setting carrying a bulk endpoint in
// each direction plus an interrupt endpoint for events. That triple
// is how a still image device announces PTP.
func findEndpoints(desc *gousb.DeviceDesc) (epSet, bool) {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if len(alt.Endpoints) != 3 {
					continue
				}
				var eps epSet
				var haveSend, haveFetch, haveEvent bool
				for _, ep := range alt.Endpoints {
					switch {
					case ep.Direction == gousb.EndpointDirectionIn && ep.TransferType == gousb.TransferTypeInterrupt:
						eps.event, haveEvent = ep, true
					case ep.Direction == gousb.EndpointDirectionIn && ep.TransferType == gousb.TransferTypeBulk:
						eps.fetch, haveFetch = ep, true
					case ep.Direction == gousb.EndpointDirectionOut && ep.TransferType == gousb.TransferTypeBulk:
						eps.send, haveSend = ep, true
					}
				}
				if haveSend && haveFetch && haveEvent {
					eps.config = cfg.Number
					eps.iface = intf.Number
					eps.alt = alt.Alternate
					return eps, true
				}
			}
		}
	}
	return epSet{}, false
}

func supported(desc *gousb.DeviceDesc) (string, bool) {
	if desc.Vendor != FujiVendorID {
		return "", false
	}
	model, ok := FujiProductIDs[uint16(desc.Product)]
	if !ok {
		return "", false
	}
	if _, ok := findEndpoints(desc); !ok {
		return "", false
	}
	return model, true
}

// FindDevices lists supported cameras without opening them.
func FindDevices() ([]FoundDevice, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []FoundDevice
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		model, ok := supported(desc)
		if !ok {
			return false
		}
		found = append(found, FoundDevice{
			VendorID:  uint16(desc.Vendor),
			ProductID: uint16(desc.Product),
			Model:     model,
			Bus:       desc.Bus,
			Address:   desc.Address,
		})
		return false
	})
	return found, err
}

// SelectDevice opens the single matching camera. model narrows the
// match to one body ("X-T3"); with several candidates left the choice
// is ambiguous and reported as an error.
func SelectDevice(model string, timeout int, lg *log.Children) (*Device, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		name, ok := supported(desc)
		if !ok {
			return false
		}
		return model == "" || strings.EqualFold(name, model)
	})
	if err != nil {
		for _, dv := range devs {
			dv.Close()
		}
		ctx.Close()
		return nil, err
	}

	if len(devs) == 0 {
		ctx.Close()
		if model != "" {
			return nil, fmt.Errorf("no %s found", model)
		}
		return nil, fmt.Errorf("no camera found")
	}
	if len(devs) > 1 {
		var ids []string
		for _, dv := range devs {
			ids = append(ids, fmt.Sprintf("%s:%s", dv.Desc.Vendor, dv.Desc.Product))
			dv.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("ambiguous devices: %s", strings.Join(ids, ", "))
	}

	d, err := openDevice(ctx, devs[0], timeout, lg)
	if err != nil {
		devs[0].Close()
		ctx.Close()
		return nil, err
	}
	return d, nil
}

func openDevice(ctx *gousb.Context, dev *gousb.Device, timeout int, lg *log.Children) (*Device, error) {
	eps, ok := findEndpoints(dev.Desc)
	if !ok {
		return nil, fmt.Errorf("device has no PTP endpoints")
	}

	// A kernel driver may hold the interface.
	if err := dev.SetAutoDetach(true); err != nil {
		lg.USB.Warningf("autodetach: %s", err)
	}

	cfg, err := dev.Config(eps.config)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration: %s", err)
	}

	intf, err := cfg.Interface(eps.iface, eps.alt)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("failed to open interface: %s", err)
	}

	sendEP, err := intf.OutEndpoint(eps.send.Number)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("failed to open send EP: %s", err)
	}

	fetchEP, err := intf.InEndpoint(eps.fetch.Number)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("failed to open fetch EP: %s", err)
	}

	d := &Device{
		ctx:            ctx,
		dev:            dev,
		cfg:            cfg,
		intf:           intf,
		sendMaxPacket:  eps.send.MaxPacketSize,
		fetchMaxPacket: eps.fetch.MaxPacketSize,
		Model:          FujiProductIDs[uint16(dev.Desc.Product)],
		Timeout:        timeout,
		log:            lg,
	}
	d.sendEP = epWriter{ep: sendEP, timeout: d.timeout}
	d.fetchEP = epReader{ep: fetchEP, timeout: d.timeout}

	lg.USB.Infof("opened %s (%s:%s)", d.Model, dev.Desc.Vendor, dev.Desc.Product)
	return d, nil
}
