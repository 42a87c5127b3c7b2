package firewall

import "time"

// SystemInfo is the appliance identity block from "show system info".
type SystemInfo struct {
	Hostname            string
	Serial              string
	Model               string
	SWVersion           string
	UptimeSeconds       int64
	AppVersion          string
	ThreatVersion       string
	AntivirusVersion    string
	WildfireVersion     string
	URLFilteringVersion string
}

// Throughput carries rates derived from interface counter deltas between
// consecutive polls, plus the raw counters the next delta will use.
type Throughput struct {
	At               time.Time
	InMbps           float64
	OutMbps          float64
	PacketsInPerSec  float64
	PacketsOutPerSec float64
	InterfaceErrors  int64

	// Raw counter sums at sample time.
	BytesIn    int64
	BytesOut   int64
	PacketsIn  int64
	PacketsOut int64
}

// Sessions is the session-table state from "show session info".
type Sessions struct {
	Active         int64
	TCP            int64
	UDP            int64
	ICMP           int64
	Capacity       int64
	UtilizationPct float64
}

// Resources aggregates CPU, memory, disk and temperature readings.
type Resources struct {
	CPUDataPlanePct float64
	CPUMgmtPlanePct float64
	MemoryUsedPct   float64
	DiskRootPct     float64
	DiskLogPct      float64
	TemperatureC    float64
}

// Interface is one entry of the appliance interface table.
type Interface struct {
	Name  string
	State string
	IP    string
	Zone  string
}

// ThreatLogEntry is one row from the threat log.
type ThreatLogEntry struct {
	ReceiveTime time.Time
	Severity    string
	ThreatID    string
	ThreatName  string
	SourceIP    string
	DestIP      string
	Application string
	Action      string
	Category    string
	SeqNo       string
	Raw         []byte
}

// SystemLogEntry is one row from the system log.
type SystemLogEntry struct {
	ReceiveTime time.Time
	Severity    string
	Module      string
	Description string
	SeqNo       string
	Raw         []byte
}

// TrafficLogEntry is one row from the traffic log.
type TrafficLogEntry struct {
	ReceiveTime time.Time
	SourceIP    string
	DestIP      string
	DestPort    int
	Application string
	Category    string
	Protocol    string
	Bytes       int64
	BytesSent   int64
	BytesRecv   int64
	SourceZone  string
	DestZone    string
}

// ApplicationStat is one entry of the top-applications report.
type ApplicationStat struct {
	Name     string
	Bytes    int64
	Sessions int64
}

// ArpEntry is one row of the appliance ARP table.
type ArpEntry struct {
	IP        string
	MAC       string
	Interface string
	Status    string
}

// DhcpLease is one lease from the appliance DHCP server.
type DhcpLease struct {
	IP       string
	MAC      string
	Hostname string
	State    string
}

// License is one subscription entry from "request license info".
type License struct {
	Feature     string
	Description string
	Expires     string
	Expired     bool
}

// SoftwareUpdate is one entry from the software update catalog.
type SoftwareUpdate struct {
	Version    string
	ReleasedOn string
	Downloaded bool
	Current    bool
	Latest     bool
}

// ContentUpdate is one entry from the content update catalog.
type ContentUpdate struct {
	Version     string
	ContentKind string
	ReleasedOn  string
	Downloaded  bool
	Current     bool
}

// TechSupportJob reports the state of a tech-support export job.
type TechSupportJob struct {
	ID       string
	Status   string // PEND, ACT, FIN
	Progress int
	Finished bool
}
