// Quick engine probe: dial a daemon, print its version banner and the
// current scanner attributes. Handy for checking connectivity before a
// session.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/openoct/GoOCT/engined"
	"github.com/openoct/GoOCT/internal/device"
)

// dial is swappable for tests.
var dial = engined.Dial

func run(args []string, out io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("goct", flag.ContinueOnError)
	addrFlag := fs.String("engine-addr", "", "Engine daemon address host:port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr := *addrFlag
	if addr == "" {
		addr = getenv("OCT_ENGINE_ADDR")
	}
	if addr == "" {
		return fmt.Errorf("no engine address: pass -engine-addr or set OCT_ENGINE_ADDR")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	version, err := c.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "engine version:", version)

	for _, attr := range []string{device.AttrConfig, device.AttrImagingRate, device.AttrSpectrumLength} {
		value, err := c.ReadAttr(ctx, device.SectionScanner, attr)
		if err != nil {
			fmt.Fprintf(out, "%s: <%v>\n", attr, err)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", attr, value)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		log.Fatal(err)
	}
}
