// Package refdata carries small embedded lookup tables: NIC vendor by MAC
// OUI prefix and conventional service names by port. The tables load lazily
// on first use.
package refdata

import (
	"bufio"
	"bytes"
	"embed"
	"strconv"
	"strings"
	"sync"
)

//go:embed data/*.txt
var files embed.FS

var (
	once    sync.Once
	vendors map[string]string
	ports   map[int]string
)

func load() {
	vendors = make(map[string]string, 128)
	forEachLine("data/oui.txt", func(key, value string) {
		vendors[strings.ToUpper(key)] = value
	})

	ports = make(map[int]string, 128)
	forEachLine("data/ports.txt", func(key, value string) {
		if p, err := strconv.Atoi(key); err == nil {
			ports[p] = value
		}
	})
}

func forEachLine(name string, fn func(key, value string)) {
	data, err := files.ReadFile(name)
	if err != nil {
		return
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		fn(strings.TrimSpace(key), strings.TrimSpace(value))
	}
}

// VendorForMAC returns the NIC vendor for a MAC address, or "" when the OUI
// prefix is not in the table. Separator style and case do not matter.
func VendorForMAC(mac string) string {
	once.Do(load)

	hex := make([]byte, 0, 6)
	for i := 0; i < len(mac) && len(hex) < 6; i++ {
		c := mac[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			hex = append(hex, c)
		case c >= 'a' && c <= 'f':
			hex = append(hex, c-'a'+'A')
		}
	}
	if len(hex) < 6 {
		return ""
	}
	return vendors[string(hex)]
}

// ServiceName returns the conventional service name for a TCP/UDP port, or
// "" for ports without one.
func ServiceName(port int) string {
	once.Do(load)
	return ports[port]
}
