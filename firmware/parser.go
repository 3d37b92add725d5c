package firmware

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/gabriel-vasile/mimetype"
)

// ManifestName is the manifest file inside a distribution package.
const ManifestName = "manifest.json"

// manifest mirrors manifest.json as written by nrfutil.
type manifest struct {
	Manifest map[ImageType]manifestEntry `json:"manifest"`
}

type manifestEntry struct {
	BinFile string `json:"bin_file"`
	DatFile string `json:"dat_file"`
}

// Parse reads a distribution package (.zip) from the given file path.
//
// Example:
//
//	pkg, err := firmware.Parse("app_dfu_package.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, img := range pkg.Images {
//	    fmt.Printf("%s: %d bytes\n", img.Type, len(img.Firmware))
//	}
func Parse(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a distribution package held in memory.
func ParseBytes(data []byte) (*Package, error) {
	if mime := mimetype.Detect(data); !isZip(mime) {
		return nil, fmt.Errorf("not a DFU package: detected %s", mime.String())
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}

	raw, err := readZipFile(zr, ManifestName)
	if err != nil {
		return nil, err
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestName, err)
	}

	pkg := &Package{}
	for typ, entry := range m.Manifest {
		if _, ok := installOrder[typ]; !ok {
			return nil, fmt.Errorf("unknown image type %q in %s", typ, ManifestName)
		}
		if entry.DatFile == "" || entry.BinFile == "" {
			return nil, fmt.Errorf("%s: manifest entry needs dat_file and bin_file", typ)
		}

		img := &Image{
			Type:         typ,
			InitFile:     entry.DatFile,
			FirmwareFile: entry.BinFile,
		}
		if img.Init, err = readZipFile(zr, entry.DatFile); err != nil {
			return nil, err
		}
		if img.Firmware, err = readZipFile(zr, entry.BinFile); err != nil {
			return nil, err
		}
		pkg.Images = append(pkg.Images, img)
	}

	pkg.sort()
	if err := pkg.validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// FromFiles builds a single application image from an init packet (.dat)
// and a firmware binary (.bin).
func FromFiles(datPath, binPath string) (*Package, error) {
	init, err := os.ReadFile(datPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read init packet: %w", err)
	}
	bin, err := os.ReadFile(binPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware: %w", err)
	}
	return FromBytes(init, bin)
}

// FromBytes builds a single application image from an init packet and a
// firmware binary.
func FromBytes(init, bin []byte) (*Package, error) {
	for name, data := range map[string][]byte{"init packet": init, "firmware": bin} {
		if isZip(mimetype.Detect(data)) {
			return nil, fmt.Errorf("%s is a DFU package, use Parse", name)
		}
	}

	pkg := &Package{Images: []*Image{{
		Type:     TypeApplication,
		Init:     init,
		Firmware: bin,
	}}}
	if err := pkg.validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// isZip reports whether m is a zip archive or a format built on one.
func isZip(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(path.Clean(name))
	if err != nil {
		return nil, fmt.Errorf("package is missing %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
