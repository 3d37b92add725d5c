package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-securedfu/ble"
	"github.com/moffa90/go-securedfu/dfu"
	"github.com/moffa90/go-securedfu/firmware"
	"github.com/moffa90/go-securedfu/internal/style"
)

type updateOptions struct {
	name           string
	dfuName        string
	datFile        string
	binFile        string
	skipButtonless bool
	mtu            int
	retries        int
	timeout        time.Duration
	scanTimeout    time.Duration
	packetDelay    time.Duration
}

func newUpdateCommand() *cobra.Command {
	var o updateOptions

	cmd := &cobra.Command{
		Use:   "update [package.zip]",
		Short: "Send a DFU package (or a .dat/.bin pair) to a device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := loadPackage(args, o)
			if err != nil {
				return err
			}

			transport, err := ble.Open()
			if err != nil {
				return err
			}

			progress := newProgress(cmd.ErrOrStderr(), pkg.Size())
			if err := runUpdate(cmd.Context(), transport, pkg, o, progress); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), style.SuccessStyle.Render(
				fmt.Sprintf("Updated %s with %d image(s)", o.name, len(pkg.Images))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.name, "name", "n", "", "Advertised name of the device to update")
	cmd.Flags().StringVar(&o.dfuName, "dfu-name", "", "Name the bootloader advertises (default DFU_<time>)")
	cmd.Flags().StringVar(&o.datFile, "dat", "", "Init packet, instead of a package")
	cmd.Flags().StringVar(&o.binFile, "bin", "", "Firmware binary, instead of a package")
	cmd.Flags().BoolVar(&o.skipButtonless, "skip-buttonless", false, "The device already runs the bootloader")
	cmd.Flags().IntVar(&o.mtu, "mtu", 0, "Request this ATT MTU instead of the default")
	cmd.Flags().IntVar(&o.retries, "retries", 0, "Checksum retries per object")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "Control point response timeout")
	cmd.Flags().DurationVar(&o.scanTimeout, "scan-timeout", 10*time.Second, "How long to look for the device")
	cmd.Flags().DurationVar(&o.packetDelay, "packet-delay", -1, "Delay between packets")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func loadPackage(args []string, o updateOptions) (*firmware.Package, error) {
	switch {
	case len(args) == 1 && (o.datFile != "" || o.binFile != ""):
		return nil, errors.New("give either a package or --dat and --bin, not both")
	case len(args) == 1:
		return firmware.Parse(args[0])
	case o.datFile != "" && o.binFile != "":
		return firmware.FromFiles(o.datFile, o.binFile)
	default:
		return nil, errors.New("a package or --dat and --bin are required")
	}
}

func (o updateOptions) dfuOptions(logger dfu.Logger, progress *progressReporter) []dfu.Option {
	opts := []dfu.Option{
		dfu.WithLogger(logger),
		dfu.WithProgressCallback(progress.report),
		dfu.WithTimeout(o.timeout),
		dfu.WithDiscoveryTimeout(o.scanTimeout),
		dfu.WithRetries(o.retries),
		dfu.WithPacketDelay(o.packetDelay),
	}
	if o.mtu > 0 {
		opts = append(opts, dfu.WithMTU(o.mtu))
	}
	if o.dfuName != "" {
		opts = append(opts, dfu.WithAdvertisingName(o.dfuName))
	}
	return opts
}

// runUpdate sends every image of pkg in order. The first image switches
// the application into the bootloader unless it is already running; later
// images go to the bootloader, which restarts in DFU mode between images.
func runUpdate(ctx context.Context, transport dfu.Transport, pkg *firmware.Package, o updateOptions, progress *progressReporter) error {
	u := dfu.New(transport, o.dfuOptions(newLogger(), progress)...)

	bootloaderName := o.name
	if !o.skipButtonless {
		bootloaderName = u.Config().AdvertisingName
	}

	for i, img := range pkg.Images {
		progress.next(img)

		name := bootloaderName
		if i == 0 {
			name = o.name
		}
		dev, err := discover(ctx, transport, name, o.scanTimeout)
		if err != nil {
			return err
		}

		if i == 0 && !o.skipButtonless {
			err = u.Update(ctx, dev, img.InitSource(), img.FirmwareSource())
		} else {
			err = u.Transfer(ctx, dev, img.InitSource(), img.FirmwareSource())
		}
		if err != nil {
			return fmt.Errorf("%s: %w", img.Type, err)
		}
	}

	progress.finish()
	return nil
}

func discover(ctx context.Context, transport dfu.Transport, name string, timeout time.Duration) (dfu.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return dfu.Discover(ctx, transport, name)
}

// progressReporter maps per-image progress onto one bar for the whole package.
type progressReporter struct {
	bar  *progressbar.ProgressBar
	base int64
	size int64
}

func newProgress(w io.Writer, total int64) *progressReporter {
	return &progressReporter{
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetDescription("Waiting"),
		),
	}
}

func (p *progressReporter) next(img *firmware.Image) {
	p.base += p.size
	p.size = int64(len(img.Firmware))
	p.bar.Describe(string(img.Type))
}

func (p *progressReporter) report(pr dfu.Progress) {
	if pr.Phase != dfu.PhaseFirmware {
		return
	}
	_ = p.bar.Set64(p.base + pr.Offset)
}

func (p *progressReporter) finish() {
	_ = p.bar.Finish()
}
