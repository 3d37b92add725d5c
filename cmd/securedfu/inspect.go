package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-securedfu/firmware"
	"github.com/moffa90/go-securedfu/internal/style"
	"github.com/moffa90/go-securedfu/protocol"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <package.zip>",
		Short: "Show the images of a DFU package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := firmware.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPackage(args[0], pkg))
			return nil
		},
	}
}

func renderPackage(name string, pkg *firmware.Package) string {
	var b strings.Builder
	b.WriteString(style.TitleStyle.Render(name))
	b.WriteString("\n")

	for _, img := range pkg.Images {
		lines := []string{
			style.TitleStyle.Render(string(img.Type)),
			style.Field("init packet", fmt.Sprintf("%s (%d bytes)", img.InitFile, len(img.Init))),
			style.Field("firmware", fmt.Sprintf("%s (%d bytes)", img.FirmwareFile, len(img.Firmware))),
			style.Field("crc32", fmt.Sprintf("0x%08X", protocol.Checksum(img.Firmware))),
		}
		b.WriteString(style.BoxStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}
	b.WriteString(style.HelpStyle.Render(fmt.Sprintf("%d image(s), %d bytes total", len(pkg.Images), pkg.Size())))
	return b.String()
}
