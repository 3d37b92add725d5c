// Package dfu updates the firmware of Nordic nRF5 devices over Bluetooth LE
// using the Secure DFU protocol.
//
// # Overview
//
// This package orchestrates the complete update sequence:
//   - Switching the running application into the bootloader (buttonless DFU)
//   - Finding the bootloader again under its new advertising name
//   - Negotiating the MTU
//   - Transferring and executing the init packet (command object)
//   - Transferring the firmware image in device-sized data objects, each
//     verified by CRC32 and executed before the next one is created
//
// Interrupted updates resume from the data the device has durably received.
//
// # Basic Usage
//
//	// User provides the radio stack (the ble package wraps tinygo.org/x/bluetooth)
//	transport, err := ble.Open()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dev, err := dfu.Discover(ctx, transport, "MyDevice")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pkg, err := firmware.Parse("app_dfu_package.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	img := pkg.Images[0]
//
//	u := dfu.New(transport)
//	err = u.Update(ctx, dev, img.InitSource(), img.FirmwareSource())
//
// A device that already runs the bootloader is updated with Transfer.
//
// # Progress Tracking
//
//	u := dfu.New(transport,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("[%s] %.1f%%\n", p.Phase, p.Fraction*100)
//	    }),
//	)
//
// # Observer
//
// An Observer receives the full event set of a run: progress, milestone log
// messages, protocol errors and exactly one terminal OnSuccess or OnError.
// Embed NopObserver to implement only what you need.
//
// # Logging
//
// Any logger with Debug/Info/Error key-value methods works, including
// *slog.Logger. Every record carries a "session" key unique to the run.
//
// # Error Handling
//
// The package provides structured error types:
//   - ErrTimeout: no response, advertisement or connection in time
//   - RetriesExhaustedError: the same object failed verification, or the
//     checksum request failed, on every attempt
//   - TransportError: the Transport reported a failure
//   - protocol.ProtocolError: the bootloader returned an error status
//   - protocol.ButtonlessError: the buttonless service returned an error status
//
// # Transport Independence
//
// This package does NOT implement Bluetooth. Users provide a Transport:
// connect, discover characteristics, write, subscribe to notifications,
// negotiate the MTU and scan. This allows tests to run against an in-memory
// peripheral.
package dfu
