package firewall

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	cmdSystemInfo      = "<show><system><info></info></system></show>"
	cmdIfCounters      = "<show><counter><interface>all</interface></counter></show>"
	cmdSessionInfo     = "<show><session><info></info></session></show>"
	cmdResourceMonitor = "<show><running><resource-monitor><minute><last>1</last></minute></resource-monitor></show>"
	cmdSystemResources = "<show><system><resources></resources></show>"
	cmdDiskSpace       = "<show><system><disk-space></disk-space></show>"
	cmdEnvironmentals  = "<show><system><environmentals></environmentals></show>"
	cmdInterfaces      = "<show><interface>all</interface></show>"
	cmdArpTable        = "<show><arp><entry name='all'/></arp></show>"
	cmdDhcpLeases      = "<show><dhcp><server><lease><interface>all</interface></lease></server></dhcp></show>"
	cmdLicenseInfo     = "<request><license><info></info></license></request>"
	cmdSoftwareInfo    = "<request><system><software><info></info></software></system></request>"
	cmdContentInfo     = "<request><content><upgrade><info></info></upgrade></content></request>"
)

// logPollInterval paces job-status polling for log and export retrieval.
// Variable so tests can tighten it.
var logPollInterval = 500 * time.Millisecond

// SystemInfo implements Client.
func (p *PanOS) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		System  struct {
			Hostname            string `xml:"hostname"`
			Serial              string `xml:"serial"`
			Model               string `xml:"model"`
			SWVersion           string `xml:"sw-version"`
			Uptime              string `xml:"uptime"`
			AppVersion          string `xml:"app-version"`
			ThreatVersion       string `xml:"threat-version"`
			AVVersion           string `xml:"av-version"`
			WildfireVersion     string `xml:"wildfire-version"`
			URLFilteringVersion string `xml:"url-filtering-version"`
		} `xml:"result>system"`
	}
	if err := p.opCmd(ctx, "system-info", cmdSystemInfo, &resp); err != nil {
		return nil, err
	}

	return &SystemInfo{
		Hostname:            resp.System.Hostname,
		Serial:              resp.System.Serial,
		Model:               resp.System.Model,
		SWVersion:           resp.System.SWVersion,
		UptimeSeconds:       parseUptime(resp.System.Uptime),
		AppVersion:          resp.System.AppVersion,
		ThreatVersion:       resp.System.ThreatVersion,
		AntivirusVersion:    resp.System.AVVersion,
		WildfireVersion:     resp.System.WildfireVersion,
		URLFilteringVersion: resp.System.URLFilteringVersion,
	}, nil
}

// Throughput implements Client. Rates derive from counter deltas between
// consecutive calls; the first call after startup reports zero rates.
func (p *PanOS) Throughput(ctx context.Context) (*Throughput, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		Entries []struct {
			Name       string `xml:"name"`
			BytesIn    int64  `xml:"ibytes"`
			BytesOut   int64  `xml:"obytes"`
			PacketsIn  int64  `xml:"ipackets"`
			PacketsOut int64  `xml:"opackets"`
			ErrorsIn   int64  `xml:"ierrors"`
			ErrorsOut  int64  `xml:"oerrors"`
		} `xml:"result>ifnet>ifnet>entry"`
	}
	if err := p.opCmd(ctx, "throughput", cmdIfCounters, &resp); err != nil {
		return nil, err
	}

	now := p.now()
	snap := counterSnapshot{at: now}
	for _, e := range resp.Entries {
		if p.monitored != nil && !p.monitored[e.Name] {
			continue
		}
		snap.bytesIn += e.BytesIn
		snap.bytesOut += e.BytesOut
		snap.packetsIn += e.PacketsIn
		snap.packetsOut += e.PacketsOut
		snap.errors += e.ErrorsIn + e.ErrorsOut
	}

	p.mu.Lock()
	prev := p.prev
	p.prev = &snap
	p.mu.Unlock()

	out := &Throughput{
		At:         now,
		BytesIn:    snap.bytesIn,
		BytesOut:   snap.bytesOut,
		PacketsIn:  snap.packetsIn,
		PacketsOut: snap.packetsOut,
	}

	if prev == nil {
		return out, nil
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return out, nil
	}

	out.InMbps = float64(delta(snap.bytesIn, prev.bytesIn)) * 8 / elapsed / 1e6
	out.OutMbps = float64(delta(snap.bytesOut, prev.bytesOut)) * 8 / elapsed / 1e6
	out.PacketsInPerSec = float64(delta(snap.packetsIn, prev.packetsIn)) / elapsed
	out.PacketsOutPerSec = float64(delta(snap.packetsOut, prev.packetsOut)) / elapsed
	out.InterfaceErrors = delta(snap.errors, prev.errors)
	return out, nil
}

// delta clamps counter differences at zero so appliance counter resets do
// not produce negative rates.
func delta(cur, prev int64) int64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// Sessions implements Client.
func (p *PanOS) Sessions(ctx context.Context) (*Sessions, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		Result  struct {
			Active   int64 `xml:"num-active"`
			TCP      int64 `xml:"num-tcp"`
			UDP      int64 `xml:"num-udp"`
			ICMP     int64 `xml:"num-icmp"`
			Capacity int64 `xml:"num-max"`
		} `xml:"result"`
	}
	if err := p.opCmd(ctx, "sessions", cmdSessionInfo, &resp); err != nil {
		return nil, err
	}

	s := &Sessions{
		Active:   resp.Result.Active,
		TCP:      resp.Result.TCP,
		UDP:      resp.Result.UDP,
		ICMP:     resp.Result.ICMP,
		Capacity: resp.Result.Capacity,
	}
	if s.Capacity > 0 {
		s.UtilizationPct = float64(s.Active) / float64(s.Capacity) * 100
	}
	return s, nil
}

// Resources implements Client. Temperature is best effort: VM-series
// appliances have no thermal probes and answer environmentals with an error.
func (p *PanOS) Resources(ctx context.Context) (*Resources, error) {
	out := &Resources{}

	var monitor struct {
		XMLName xml.Name `xml:"response"`
		Cores   []struct {
			Value string `xml:"value"`
		} `xml:"result>resource-monitor>data-processors>dp0>minute>cpu-load-average>entry"`
	}
	if err := p.opCmd(ctx, "resource-monitor", cmdResourceMonitor, &monitor); err != nil {
		return nil, err
	}
	var sum, n float64
	for _, core := range monitor.Cores {
		if v, err := strconv.ParseFloat(core.Value, 64); err == nil {
			sum += v
			n++
		}
	}
	if n > 0 {
		out.CPUDataPlanePct = sum / n
	}

	var resources struct {
		XMLName xml.Name `xml:"response"`
		Text    string   `xml:"result"`
	}
	if err := p.opCmd(ctx, "system-resources", cmdSystemResources, &resources); err != nil {
		return nil, err
	}
	cpu, mem, err := parseTopOutput(resources.Text)
	if err != nil {
		return nil, &OpError{Kind: KindBadResponse, Op: "system-resources", Host: p.host, Err: err}
	}
	out.CPUMgmtPlanePct = cpu
	out.MemoryUsedPct = mem

	var disk struct {
		XMLName xml.Name `xml:"response"`
		Text    string   `xml:"result"`
	}
	if err := p.opCmd(ctx, "disk-space", cmdDiskSpace, &disk); err != nil {
		return nil, err
	}
	out.DiskRootPct, out.DiskLogPct = parseDiskUsage(disk.Text)

	var env struct {
		XMLName xml.Name `xml:"response"`
		Thermal struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"result>thermal"`
	}
	if err := p.opCmd(ctx, "environmentals", cmdEnvironmentals, &env); err != nil {
		p.logger.Debug().Err(err).Msg("no environmentals, skipping temperature")
	} else {
		out.TemperatureC = maxDegrees(env.Thermal.Inner)
	}

	return out, nil
}

// Interfaces implements Client. Logical entries carry IP and zone; the hw
// table carries link state, joined by name.
func (p *PanOS) Interfaces(ctx context.Context) ([]Interface, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		Logical []struct {
			Name string `xml:"name"`
			IP   string `xml:"ip"`
			Zone string `xml:"zone"`
		} `xml:"result>ifnet>entry"`
		Hardware []struct {
			Name  string `xml:"name"`
			State string `xml:"state"`
		} `xml:"result>hw>entry"`
	}
	if err := p.opCmd(ctx, "interfaces", cmdInterfaces, &resp); err != nil {
		return nil, err
	}

	states := make(map[string]string, len(resp.Hardware))
	for _, hw := range resp.Hardware {
		states[hw.Name] = hw.State
	}

	out := make([]Interface, 0, len(resp.Logical))
	for _, e := range resp.Logical {
		out = append(out, Interface{
			Name:  e.Name,
			State: states[e.Name],
			IP:    e.IP,
			Zone:  e.Zone,
		})
	}
	return out, nil
}

// threatLogXML doubles as the JSON envelope stored in the raw column.
type threatLogXML struct {
	ReceiveTime string `xml:"receive_time" json:"receive_time"`
	Severity    string `xml:"severity" json:"severity"`
	ThreatID    string `xml:"threatid" json:"threatid"`
	Subtype     string `xml:"subtype" json:"subtype"`
	SourceIP    string `xml:"src" json:"src"`
	DestIP      string `xml:"dst" json:"dst"`
	Application string `xml:"app" json:"app"`
	Action      string `xml:"action" json:"action"`
	Category    string `xml:"category" json:"category"`
	SeqNo       string `xml:"seqno" json:"seqno"`
}

// ThreatLogs implements Client.
func (p *PanOS) ThreatLogs(ctx context.Context, max int) ([]ThreatLogEntry, error) {
	body, err := p.fetchLogs(ctx, "threat", max)
	if err != nil {
		return nil, err
	}
	var list struct {
		Entries []threatLogXML `xml:"entry"`
	}
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, &OpError{Kind: KindBadResponse, Op: "threat-logs", Host: p.host, Err: fmt.Errorf("decode log entries: %w", err)}
	}
	entries := list.Entries

	out := make([]ThreatLogEntry, 0, len(entries))
	for _, e := range entries {
		name, id := splitThreatID(e.ThreatID)
		raw, _ := json.Marshal(e)
		out = append(out, ThreatLogEntry{
			ReceiveTime: parseLogTime(e.ReceiveTime),
			Severity:    e.Severity,
			ThreatID:    id,
			ThreatName:  name,
			SourceIP:    e.SourceIP,
			DestIP:      e.DestIP,
			Application: e.Application,
			Action:      e.Action,
			Category:    e.Category,
			SeqNo:       e.SeqNo,
			Raw:         raw,
		})
	}
	return out, nil
}

type systemLogXML struct {
	ReceiveTime string `xml:"receive_time" json:"receive_time"`
	Severity    string `xml:"severity" json:"severity"`
	Module      string `xml:"module" json:"module"`
	EventID     string `xml:"eventid" json:"eventid"`
	Description string `xml:"opaque" json:"opaque"`
	SeqNo       string `xml:"seqno" json:"seqno"`
}

// SystemLogs implements Client.
func (p *PanOS) SystemLogs(ctx context.Context, max int) ([]SystemLogEntry, error) {
	body, err := p.fetchLogs(ctx, "system", max)
	if err != nil {
		return nil, err
	}
	var list struct {
		Entries []systemLogXML `xml:"entry"`
	}
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, &OpError{Kind: KindBadResponse, Op: "system-logs", Host: p.host, Err: fmt.Errorf("decode log entries: %w", err)}
	}
	entries := list.Entries

	out := make([]SystemLogEntry, 0, len(entries))
	for _, e := range entries {
		module := e.Module
		if module == "" {
			module = e.EventID
		}
		raw, _ := json.Marshal(e)
		out = append(out, SystemLogEntry{
			ReceiveTime: parseLogTime(e.ReceiveTime),
			Severity:    e.Severity,
			Module:      module,
			Description: e.Description,
			SeqNo:       e.SeqNo,
			Raw:         raw,
		})
	}
	return out, nil
}

type trafficLogXML struct {
	ReceiveTime string `xml:"receive_time" json:"receive_time"`
	SourceIP    string `xml:"src" json:"src"`
	DestIP      string `xml:"dst" json:"dst"`
	DestPort    int    `xml:"dport" json:"dport"`
	Application string `xml:"app" json:"app"`
	Category    string `xml:"category" json:"category"`
	Protocol    string `xml:"proto" json:"proto"`
	Bytes       int64  `xml:"bytes" json:"bytes"`
	BytesSent   int64  `xml:"bytes_sent" json:"bytes_sent"`
	BytesRecv   int64  `xml:"bytes_received" json:"bytes_received"`
	SourceZone  string `xml:"from" json:"from"`
	DestZone    string `xml:"to" json:"to"`
}

// TrafficLogs implements Client.
func (p *PanOS) TrafficLogs(ctx context.Context, max int) ([]TrafficLogEntry, error) {
	body, err := p.fetchLogs(ctx, "traffic", max)
	if err != nil {
		return nil, err
	}
	var list struct {
		Entries []trafficLogXML `xml:"entry"`
	}
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, &OpError{Kind: KindBadResponse, Op: "traffic-logs", Host: p.host, Err: fmt.Errorf("decode log entries: %w", err)}
	}
	entries := list.Entries

	out := make([]TrafficLogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, TrafficLogEntry{
			ReceiveTime: parseLogTime(e.ReceiveTime),
			SourceIP:    e.SourceIP,
			DestIP:      e.DestIP,
			DestPort:    e.DestPort,
			Application: e.Application,
			Category:    e.Category,
			Protocol:    e.Protocol,
			Bytes:       e.Bytes,
			BytesSent:   e.BytesSent,
			BytesRecv:   e.BytesRecv,
			SourceZone:  e.SourceZone,
			DestZone:    e.DestZone,
		})
	}
	return out, nil
}

// fetchLogs runs the two-phase log retrieval: submit a query job, then poll
// until the job finishes. The whole exchange runs under the download
// timeout. Returns the finished job's entry list wrapped in a <logs>
// element for the caller to decode.
func (p *PanOS) fetchLogs(ctx context.Context, logType string, max int) ([]byte, error) {
	if max <= 0 || max > 5000 {
		max = 5000
	}
	op := logType + "-logs"

	ctx, cancel := context.WithTimeout(ctx, p.downloadClient.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("type", "log")
	params.Set("log-type", logType)
	params.Set("nlogs", strconv.Itoa(max))

	var submit struct {
		XMLName xml.Name `xml:"response"`
		Job     string   `xml:"result>job"`
	}
	if err := p.call(ctx, op, params, false, &submit); err != nil {
		return nil, err
	}
	if submit.Job == "" {
		return nil, &OpError{Kind: KindBadResponse, Op: op, Host: p.host, Err: fmt.Errorf("log query returned no job id")}
	}

	poll := url.Values{}
	poll.Set("type", "log")
	poll.Set("action", "get")
	poll.Set("job-id", submit.Job)

	for {
		var status struct {
			XMLName xml.Name `xml:"response"`
			Status  string   `xml:"result>job>status"`
			Logs    struct {
				Inner []byte `xml:",innerxml"`
			} `xml:"result>log>logs"`
		}
		if err := p.call(ctx, op, poll, true, &status); err != nil {
			return nil, err
		}
		if status.Status == "FIN" {
			wrapped := append([]byte("<logs>"), status.Logs.Inner...)
			return append(wrapped, []byte("</logs>")...), nil
		}

		select {
		case <-ctx.Done():
			return nil, &OpError{Kind: KindTimeout, Op: op, Host: p.host, Err: ctx.Err()}
		case <-time.After(logPollInterval):
		}
	}
}

// ApplicationStats implements Client using the dynamic top-applications
// report.
func (p *PanOS) ApplicationStats(ctx context.Context, max int) ([]ApplicationStat, error) {
	if max <= 0 {
		max = 25
	}
	params := url.Values{}
	params.Set("type", "report")
	params.Set("reporttype", "dynamic")
	params.Set("reportname", "top-applications-summary")
	params.Set("period", "last-hour")
	params.Set("topn", strconv.Itoa(max))

	var resp struct {
		XMLName xml.Name `xml:"response"`
		Entries []struct {
			Name     string `xml:"name"`
			Bytes    int64  `xml:"nbytes"`
			Sessions int64  `xml:"nsess"`
		} `xml:"result>report>entry"`
	}
	if err := p.call(ctx, "application-stats", params, false, &resp); err != nil {
		return nil, err
	}

	out := make([]ApplicationStat, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, ApplicationStat{Name: e.Name, Bytes: e.Bytes, Sessions: e.Sessions})
	}
	return out, nil
}

// ArpTable implements Client.
func (p *PanOS) ArpTable(ctx context.Context) ([]ArpEntry, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		Entries []struct {
			IP        string `xml:"ip"`
			MAC       string `xml:"mac"`
			Interface string `xml:"interface"`
			Status    string `xml:"status"`
		} `xml:"result>entries>entry"`
	}
	if err := p.opCmd(ctx, "arp-table", cmdArpTable, &resp); err != nil {
		return nil, err
	}

	out := make([]ArpEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, ArpEntry{
			IP:        e.IP,
			MAC:       normalizeMAC(e.MAC),
			Interface: e.Interface,
			Status:    normalizeArpStatus(e.Status),
		})
	}
	return out, nil
}

// DhcpLeases implements Client.
func (p *PanOS) DhcpLeases(ctx context.Context) ([]DhcpLease, error) {
	var resp struct {
		XMLName    xml.Name `xml:"response"`
		Interfaces []struct {
			Name    string `xml:"name,attr"`
			Entries []struct {
				IP       string `xml:"ip"`
				MAC      string `xml:"mac"`
				Hostname string `xml:"hostname"`
				State    string `xml:"state"`
			} `xml:"entry"`
		} `xml:"result>interface"`
	}
	if err := p.opCmd(ctx, "dhcp-leases", cmdDhcpLeases, &resp); err != nil {
		return nil, err
	}

	var out []DhcpLease
	for _, iface := range resp.Interfaces {
		for _, e := range iface.Entries {
			out = append(out, DhcpLease{
				IP:       e.IP,
				MAC:      normalizeMAC(e.MAC),
				Hostname: e.Hostname,
				State:    e.State,
			})
		}
	}
	return out, nil
}

// Licenses implements Client.
func (p *PanOS) Licenses(ctx context.Context) ([]License, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		Entries []struct {
			Feature     string `xml:"feature"`
			Description string `xml:"description"`
			Expires     string `xml:"expires"`
			Expired     string `xml:"expired"`
		} `xml:"result>licenses>entry"`
	}
	if err := p.opCmd(ctx, "licenses", cmdLicenseInfo, &resp); err != nil {
		return nil, err
	}

	out := make([]License, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, License{
			Feature:     e.Feature,
			Description: e.Description,
			Expires:     e.Expires,
			Expired:     yesNo(e.Expired),
		})
	}
	return out, nil
}

// SoftwareUpdates implements Client.
func (p *PanOS) SoftwareUpdates(ctx context.Context) ([]SoftwareUpdate, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		Entries []struct {
			Version    string `xml:"version"`
			ReleasedOn string `xml:"released-on"`
			Downloaded string `xml:"downloaded"`
			Current    string `xml:"current"`
			Latest     string `xml:"latest"`
		} `xml:"result>sw-updates>versions>entry"`
	}
	if err := p.opCmd(ctx, "software-updates", cmdSoftwareInfo, &resp); err != nil {
		return nil, err
	}

	out := make([]SoftwareUpdate, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, SoftwareUpdate{
			Version:    e.Version,
			ReleasedOn: e.ReleasedOn,
			Downloaded: yesNo(e.Downloaded),
			Current:    yesNo(e.Current),
			Latest:     yesNo(e.Latest),
		})
	}
	return out, nil
}

// ContentUpdates implements Client.
func (p *PanOS) ContentUpdates(ctx context.Context) ([]ContentUpdate, error) {
	var resp struct {
		XMLName xml.Name `xml:"response"`
		Entries []struct {
			Version    string `xml:"version"`
			Kind       string `xml:"type"`
			ReleasedOn string `xml:"released-on"`
			Downloaded string `xml:"downloaded"`
			Current    string `xml:"current"`
		} `xml:"result>content-updates>entry"`
	}
	if err := p.opCmd(ctx, "content-updates", cmdContentInfo, &resp); err != nil {
		return nil, err
	}

	out := make([]ContentUpdate, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, ContentUpdate{
			Version:     e.Version,
			ContentKind: e.Kind,
			ReleasedOn:  e.ReleasedOn,
			Downloaded:  yesNo(e.Downloaded),
			Current:     yesNo(e.Current),
		})
	}
	return out, nil
}

// StartTechSupportJob implements Client.
func (p *PanOS) StartTechSupportJob(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("type", "export")
	params.Set("category", "tech-support")

	var resp struct {
		XMLName xml.Name `xml:"response"`
		Job     string   `xml:"result>job"`
	}
	if err := p.call(ctx, "tech-support-start", params, false, &resp); err != nil {
		return "", err
	}
	if resp.Job == "" {
		return "", &OpError{Kind: KindBadResponse, Op: "tech-support-start", Host: p.host, Err: fmt.Errorf("export returned no job id")}
	}
	return resp.Job, nil
}

// TechSupportJobStatus implements Client.
func (p *PanOS) TechSupportJobStatus(ctx context.Context, jobID string) (*TechSupportJob, error) {
	params := url.Values{}
	params.Set("type", "export")
	params.Set("category", "tech-support")
	params.Set("action", "status")
	params.Set("job-id", jobID)

	var resp struct {
		XMLName  xml.Name `xml:"response"`
		Status   string   `xml:"result>job>status"`
		Progress string   `xml:"result>job>progress"`
	}
	if err := p.call(ctx, "tech-support-status", params, true, &resp); err != nil {
		return nil, err
	}

	progress, _ := strconv.Atoi(resp.Progress)
	return &TechSupportJob{
		ID:       jobID,
		Status:   resp.Status,
		Progress: progress,
		Finished: resp.Status == "FIN",
	}, nil
}
