// Package ble implements dfu.Transport on top of tinygo.org/x/bluetooth,
// which drives BlueZ on Linux, CoreBluetooth on macOS and WinRT on Windows.
//
// Example:
//
//	transport, err := ble.Open()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	updater := dfu.New(transport)
//	dev, err := dfu.Discover(ctx, transport, "MyDevice")
package ble
