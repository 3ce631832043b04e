// Command octdiscover lists OCT engine daemons advertised on the local
// network.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/openoct/GoOCT/internal/discover"
)

func main() {
	timeout := flag.Duration("timeout", 3*time.Second, "How long to browse for engines")
	flag.Parse()

	engines, err := discover.Engines(*timeout)
	if err != nil {
		log.Fatalf("discover: %v", err)
	}
	if len(engines) == 0 {
		fmt.Println("no engines found")
		return
	}

	for _, e := range engines {
		addrs := make([]string, 0, len(e.Addresses))
		for _, ip := range e.Addresses {
			addrs = append(addrs, ip.String())
		}
		fmt.Printf("%-30s %-25s %s\n", e.Instance, e.Addr(), strings.Join(addrs, " "))
		for _, txt := range e.TXT {
			fmt.Printf("  %s\n", txt)
		}
	}
}
