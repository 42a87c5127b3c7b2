package types

// SessionStats is the session-table slice of a Sample.
type SessionStats struct {
	Active         int64   `json:"active"`
	TCP            int64   `json:"tcp"`
	UDP            int64   `json:"udp"`
	ICMP           int64   `json:"icmp"`
	Capacity       int64   `json:"capacity"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// CPUStats carries the two PAN-OS planes separately.
type CPUStats struct {
	DataPlanePct float64 `json:"data_plane_pct"`
	MgmtPlanePct float64 `json:"mgmt_plane_pct"`
}

// DiskUsage reports partition fill percentages.
type DiskUsage struct {
	RootPct float64 `json:"root_pct"`
	LogPct  float64 `json:"log_pct"`
}

// DatabaseVersions are the appliance's content database versions.
type DatabaseVersions struct {
	App          string `json:"app"`
	Threat       string `json:"threat"`
	Antivirus    string `json:"antivirus"`
	Wildfire     string `json:"wildfire"`
	URLFiltering string `json:"url_filtering"`
}

// LicenseFlags reports which subscriptions are active on the appliance.
type LicenseFlags struct {
	ThreatPrevention bool `json:"threat_prevention"`
	URLFiltering     bool `json:"url_filtering"`
	Wildfire         bool `json:"wildfire"`
	GlobalProtect    bool `json:"global_protect"`
	Support          bool `json:"support"`
}

// ThreatCounts are the threat-log severities observed during one collection
// window.
type ThreatCounts struct {
	Critical int64 `json:"critical"`
	High     int64 `json:"high"`
	Medium   int64 `json:"medium"`
	Low      int64 `json:"low"`
}

// TopClient is the embedded top-bandwidth-client payload on a Sample.
type TopClient struct {
	IP       string  `json:"ip"`
	Hostname string  `json:"hostname,omitempty"`
	Mbps     float64 `json:"mbps"`
}

// TopCategory is the embedded top-category payload on a Sample.
type TopCategory struct {
	Category string  `json:"category"`
	Mbps     float64 `json:"mbps"`
}

// TopApplication is one entry of the embedded top-applications payload.
type TopApplication struct {
	Name     string  `json:"name"`
	Bytes    int64   `json:"bytes"`
	Sessions int64   `json:"sessions"`
	Mbps     float64 `json:"mbps"`
}

// Sample is the central per-poll record for one device at one instant,
// keyed (time, device_id). Numeric fields read back from the store are
// never null; nested objects are always present.
type Sample struct {
	Time     ISOTime `json:"time"`
	DeviceID string  `json:"device_id"`

	ThroughputInMbps    float64 `json:"throughput_in_mbps"`
	ThroughputOutMbps   float64 `json:"throughput_out_mbps"`
	ThroughputTotalMbps float64 `json:"throughput_total_mbps"`
	PacketsInPerSec     float64 `json:"packets_in_per_sec"`
	PacketsOutPerSec    float64 `json:"packets_out_per_sec"`

	Sessions         SessionStats     `json:"sessions"`
	CPU              CPUStats         `json:"cpu"`
	MemoryUsedPct    float64          `json:"memory_used_pct"`
	DiskUsage        DiskUsage        `json:"disk_usage"`
	DatabaseVersions DatabaseVersions `json:"database_versions"`

	Hostname      string `json:"hostname"`
	SWVersion     string `json:"sw_version"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	License         LicenseFlags `json:"license"`
	Threats         ThreatCounts `json:"threats"`
	InterfaceErrors int64        `json:"interface_errors"`

	TopClient           *TopClient       `json:"top_client,omitempty"`
	TopClientInternal   *TopClient       `json:"top_client_internal,omitempty"`
	TopClientInternet   *TopClient       `json:"top_client_internet,omitempty"`
	TopCategoryLAN      *TopCategory     `json:"top_category_lan,omitempty"`
	TopCategoryInternet *TopCategory     `json:"top_category_internet,omitempty"`
	TopCategoryWAN      *TopCategory     `json:"top_category_wan,omitempty"`
	TopApplications     []TopApplication `json:"top_applications,omitempty"`

	// SampleCount is 1 for raw rows and the number of aggregated rows for
	// rollup reads.
	SampleCount int64 `json:"sample_count"`
}

// ThreatLog is one normalized threat-log entry.
type ThreatLog struct {
	Time        ISOTime `json:"time"`
	DeviceID    string  `json:"device_id"`
	Severity    string  `json:"severity"`
	ThreatID    string  `json:"threat_id,omitempty"`
	ThreatName  string  `json:"threat_name"`
	SourceIP    string  `json:"source_ip"`
	DestIP      string  `json:"dest_ip"`
	Application string  `json:"application,omitempty"`
	Action      string  `json:"action,omitempty"`
	Category    string  `json:"category,omitempty"`
	SeqNo       string  `json:"seqno"`
	Raw         []byte  `json:"raw,omitempty"`
}

// SystemLog is one normalized system-log entry.
type SystemLog struct {
	Time        ISOTime `json:"time"`
	DeviceID    string  `json:"device_id"`
	Severity    string  `json:"severity"`
	Module      string  `json:"module,omitempty"`
	Description string  `json:"description"`
	SeqNo       string  `json:"seqno"`
	Raw         []byte  `json:"raw,omitempty"`
}

// TrafficFlow is an aggregated (source, destination, port, application)
// tuple. Re-inserting an existing key accumulates bytes and sessions.
type TrafficFlow struct {
	Time        ISOTime `json:"time"`
	DeviceID    string  `json:"device_id"`
	SourceIP    string  `json:"source_ip"`
	DestIP      string  `json:"dest_ip"`
	DestPort    int     `json:"dest_port"`
	Application string  `json:"application"`
	Category    string  `json:"category,omitempty"`
	Protocol    string  `json:"protocol,omitempty"`
	BytesTotal  int64   `json:"bytes_total"`
	BytesSent   int64   `json:"bytes_sent"`
	BytesRecv   int64   `json:"bytes_received"`
	Sessions    int64   `json:"sessions"`
	SourceZone  string  `json:"source_zone,omitempty"`
	DestZone    string  `json:"dest_zone,omitempty"`
	SourceVLAN  string  `json:"source_vlan,omitempty"`
	DestVLAN    string  `json:"dest_vlan,omitempty"`
	SourceHost  string  `json:"source_hostname,omitempty"`
	DestHost    string  `json:"dest_hostname,omitempty"`
}

// ApplicationSample is a per-application aggregate over one collection
// window.
type ApplicationSample struct {
	Time        ISOTime `json:"time"`
	DeviceID    string  `json:"device_id"`
	Application string  `json:"application"`
	Bytes       int64   `json:"bytes"`
	Sessions    int64   `json:"sessions"`
	TopSource   string  `json:"top_source,omitempty"`
	SourceZone  string  `json:"source_zone,omitempty"`
	VLAN        string  `json:"vlan,omitempty"`
}

// CategoryBandwidth is a per-(category, traffic_type) aggregate.
type CategoryBandwidth struct {
	Time          ISOTime     `json:"time"`
	DeviceID      string      `json:"device_id"`
	Category      string      `json:"category"`
	TrafficType   TrafficType `json:"traffic_type"`
	Bytes         int64       `json:"bytes"`
	BandwidthMbps float64     `json:"bandwidth_mbps"`
}

// ClientBandwidth is a per-(client_ip, traffic_type) aggregate. The Mbps
// field is derived as bytes*8/window_seconds/1e6 at write time.
type ClientBandwidth struct {
	Time          ISOTime     `json:"time"`
	DeviceID      string      `json:"device_id"`
	ClientIP      string      `json:"client_ip"`
	Hostname      string      `json:"hostname,omitempty"`
	TrafficType   TrafficType `json:"traffic_type"`
	Bytes         int64       `json:"bytes"`
	BandwidthMbps float64     `json:"bandwidth_mbps"`
}

// ConnectedDevice is one ARP/DHCP snapshot row. Re-inserting (time,
// device_id, ip) refreshes mac, hostname and last_seen.
type ConnectedDevice struct {
	Time      ISOTime `json:"time"`
	DeviceID  string  `json:"device_id"`
	IP        string  `json:"ip"`
	MAC       string  `json:"mac"`
	Hostname  string  `json:"hostname,omitempty"`
	Vendor    string  `json:"vendor,omitempty"`
	Interface string  `json:"interface,omitempty"`
	LastSeen  ISOTime `json:"last_seen"`

	// Metadata is joined in from device_metadata when present.
	Metadata *DeviceMetadata `json:"metadata,omitempty"`
}
