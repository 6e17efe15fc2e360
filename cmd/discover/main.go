// Command discover lists sketchwall servers advertising on the LAN.
package main

import (
	"fmt"
	"log"

	"github.com/sketchwall/backend/internal/discovery"
)

func main() {
	found := 0
	err := discovery.Browse(func(addr string) {
		found++
		fmt.Println(addr)
	})
	if err != nil {
		log.Fatalf("mDNS lookup failed: %v", err)
	}
	if found == 0 {
		fmt.Println("No boards found on the local network.")
	}
}
