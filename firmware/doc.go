// Package firmware loads the payloads of a Secure DFU update.
//
// A distribution package is a zip archive produced by nrfutil. Its
// manifest.json names an init packet (.dat) and a firmware binary (.bin)
// for each image:
//
//	{
//	  "manifest": {
//	    "application": {"bin_file": "app.bin", "dat_file": "app.dat"}
//	  }
//	}
//
// Images are returned in installation order: softdevice_bootloader,
// softdevice, bootloader, application. Each image is sent as one update;
// the device reboots between images.
//
// A bare .dat/.bin pair can be loaded with FromFiles.
package firmware
