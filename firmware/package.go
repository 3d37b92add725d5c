package firmware

import (
	"bytes"
	"fmt"
	"sort"
)

// ImageType identifies what an image replaces on the device.
type ImageType string

const (
	TypeSoftDeviceBootloader ImageType = "softdevice_bootloader"
	TypeSoftDevice           ImageType = "softdevice"
	TypeBootloader           ImageType = "bootloader"
	TypeApplication          ImageType = "application"
)

// installOrder is the order images must be sent in. The application is
// always last because a new SoftDevice or bootloader may be required by it.
var installOrder = map[ImageType]int{
	TypeSoftDeviceBootloader: 0,
	TypeSoftDevice:           1,
	TypeBootloader:           2,
	TypeApplication:          3,
}

// Package is a parsed DFU distribution package.
type Package struct {
	// Images are ordered for installation
	Images []*Image
}

// Image is one init packet and firmware pair of a package.
type Image struct {
	// Type is the manifest entry the image was read from
	Type ImageType

	// InitFile and FirmwareFile are the names inside the package
	InitFile     string
	FirmwareFile string

	// Init is the signed init packet (command object)
	Init []byte

	// Firmware is the binary image (data objects)
	Firmware []byte
}

// InitSource returns a seekable reader over the init packet.
func (i *Image) InitSource() *bytes.Reader {
	return bytes.NewReader(i.Init)
}

// FirmwareSource returns a seekable reader over the firmware binary.
func (i *Image) FirmwareSource() *bytes.Reader {
	return bytes.NewReader(i.Firmware)
}

// Image returns the image of type t, or nil.
func (p *Package) Image(t ImageType) *Image {
	for _, img := range p.Images {
		if img.Type == t {
			return img
		}
	}
	return nil
}

// Size returns the total firmware size of all images.
func (p *Package) Size() int64 {
	var total int64
	for _, img := range p.Images {
		total += int64(len(img.Firmware))
	}
	return total
}

func (p *Package) sort() {
	sort.SliceStable(p.Images, func(a, b int) bool {
		return installOrder[p.Images[a].Type] < installOrder[p.Images[b].Type]
	})
}

func (p *Package) validate() error {
	if len(p.Images) == 0 {
		return fmt.Errorf("package contains no images")
	}
	for _, img := range p.Images {
		if len(img.Init) == 0 {
			return fmt.Errorf("%s: init packet is empty", img.Type)
		}
		if len(img.Firmware) == 0 {
			return fmt.Errorf("%s: firmware is empty", img.Type)
		}
	}
	return nil
}
