package firewall

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// logTimeLayout is the appliance's log timestamp format, in its local zone.
const logTimeLayout = "2006/01/02 15:04:05"

var (
	uptimeRe = regexp.MustCompile(`(?:(\d+)\s+days?,\s*)?(\d+):(\d+):(\d+)`)

	// procps style: "%Cpu(s):  2.2 us, ... 96.3 id, ..."
	cpuIdleRe = regexp.MustCompile(`[Cc]pu\(s\):.*?([\d.]+)[\s%]*id`)

	// "MiB Mem :   7116.4 total,    176.4 free,   4340.1 used, ..."
	memNewRe = regexp.MustCompile(`Mem\s*:\s*([\d.]+)\s+total,\s*[\d.]+\s+free,\s*([\d.]+)\s+used`)
	// older "Mem:   4038036k total,  3734932k used, ..."
	memOldRe = regexp.MustCompile(`Mem:\s*(\d+)k\s+total,\s*(\d+)k\s+used`)

	threatIDRe = regexp.MustCompile(`^(.*)\((\d+)\)$`)
)

// parseUptime converts "41 days, 9:26:53" (or "9:26:53") to seconds.
// Unparseable input yields 0.
func parseUptime(s string) int64 {
	m := uptimeRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	days, _ := strconv.ParseInt(m[1], 10, 64)
	hours, _ := strconv.ParseInt(m[2], 10, 64)
	mins, _ := strconv.ParseInt(m[3], 10, 64)
	secs, _ := strconv.ParseInt(m[4], 10, 64)
	return days*86400 + hours*3600 + mins*60 + secs
}

// parseTopOutput extracts management-plane CPU and memory usage from the
// "show system resources" text blob, which is top(1) output. Both the
// current procps format and the pre-9.x kilobyte format are handled.
func parseTopOutput(text string) (cpuPct, memPct float64, err error) {
	cpuFound := false
	if m := cpuIdleRe.FindStringSubmatch(text); m != nil {
		idle, perr := strconv.ParseFloat(m[1], 64)
		if perr == nil {
			cpuPct = 100 - idle
			cpuFound = true
		}
	}

	memFound := false
	if m := memNewRe.FindStringSubmatch(text); m != nil {
		total, terr := strconv.ParseFloat(m[1], 64)
		used, uerr := strconv.ParseFloat(m[2], 64)
		if terr == nil && uerr == nil && total > 0 {
			memPct = used / total * 100
			memFound = true
		}
	} else if m := memOldRe.FindStringSubmatch(text); m != nil {
		total, terr := strconv.ParseFloat(m[1], 64)
		used, uerr := strconv.ParseFloat(m[2], 64)
		if terr == nil && uerr == nil && total > 0 {
			memPct = used / total * 100
			memFound = true
		}
	}

	if !cpuFound || !memFound {
		return 0, 0, fmt.Errorf("unrecognized system resources output")
	}
	return cpuPct, memPct, nil
}

// parseDiskUsage extracts root and log partition fill percentages from df
// output. The log partition is whichever mount contains "panlogs"; missing
// partitions report 0.
func parseDiskUsage(text string) (rootPct, logPct float64) {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pctField := fields[len(fields)-2]
		mount := fields[len(fields)-1]
		if !strings.HasSuffix(pctField, "%") {
			continue
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(pctField, "%"), 64)
		if err != nil {
			continue
		}
		switch {
		case mount == "/":
			rootPct = pct
		case strings.Contains(mount, "panlogs"):
			logPct = pct
		}
	}
	return rootPct, logPct
}

// maxDegrees walks thermal sensor XML and returns the hottest reading.
// Slot layout varies by platform, so this scans for DegreesC elements
// rather than assuming a fixed schema.
func maxDegrees(thermalXML []byte) float64 {
	dec := xml.NewDecoder(bytes.NewReader(thermalXML))
	var max float64
	for {
		tok, err := dec.Token()
		if err != nil {
			return max
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "DegreesC" {
			continue
		}
		var val string
		if err := dec.DecodeElement(&val, &start); err != nil {
			continue
		}
		if deg, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && deg > max {
			max = deg
		}
	}
}

// splitThreatID splits "SIP Register Brute-force(40016)" into name and ID.
func splitThreatID(s string) (name, id string) {
	if m := threatIDRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}
	return s, ""
}

// parseLogTime parses an appliance log timestamp. The zero time signals an
// unparseable stamp; callers substitute the collection time.
func parseLogTime(s string) time.Time {
	t, err := time.Parse(logTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func yesNo(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "yes")
}

// normalizeMAC lowercases and trims an appliance MAC string.
func normalizeMAC(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeArpStatus maps the appliance's padded single-letter ARP status
// to a word.
func normalizeArpStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "c":
		return "complete"
	case "i":
		return "incomplete"
	case "e":
		return "expiring"
	case "s":
		return "static"
	default:
		return strings.TrimSpace(s)
	}
}
