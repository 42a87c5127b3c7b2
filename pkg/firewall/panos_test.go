package firewall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// fastRetries collapses backoff sleeps for the duration of one test.
func fastRetries(t *testing.T) {
	t.Helper()
	oldInitial, oldPoll := retryInitialInterval, logPollInterval
	retryInitialInterval = time.Millisecond
	logPollInterval = time.Millisecond
	t.Cleanup(func() {
		retryInitialInterval = oldInitial
		logPollInterval = oldPoll
	})
}

func newTestPanOS(t *testing.T, handler http.Handler, mutate ...func(*Config)) *PanOS {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		Host:   strings.TrimPrefix(srv.URL, "https://"),
		APIKey: "test-key",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewPanOS(cfg)
}

func xmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}
}

func TestSystemInfo(t *testing.T) {
	var gotQuery atomic.Value
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Encode())
		fmt.Fprint(w, `<response status="success"><result><system>
<hostname>edge-fw-01</hostname>
<serial>012345678901</serial>
<model>PA-440</model>
<sw-version>11.1.4-h7</sw-version>
<uptime>41 days, 9:26:53</uptime>
<app-version>8905-9215</app-version>
<threat-version>8905-9215</threat-version>
<av-version>5121-5639</av-version>
<wildfire-version>945678-949023</wildfire-version>
<url-filtering-version>20260825.20012</url-filtering-version>
</system></result></response>`)
	}))

	info, err := p.SystemInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "edge-fw-01", info.Hostname)
	assert.Equal(t, "PA-440", info.Model)
	assert.Equal(t, "11.1.4-h7", info.SWVersion)
	assert.Equal(t, int64(41*86400+9*3600+26*60+53), info.UptimeSeconds)
	assert.Equal(t, "8905-9215", info.AppVersion)
	assert.Equal(t, "5121-5639", info.AntivirusVersion)

	q := gotQuery.Load().(string)
	assert.Contains(t, q, "key=test-key")
	assert.Contains(t, q, "type=op")
}

func TestSessions(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result>
<num-active>1000</num-active><num-tcp>700</num-tcp><num-udp>250</num-udp>
<num-icmp>50</num-icmp><num-max>200000</num-max>
</result></response>`))

	s, err := p.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), s.Active)
	assert.Equal(t, int64(700), s.TCP)
	assert.Equal(t, int64(200000), s.Capacity)
	assert.InDelta(t, 0.5, s.UtilizationPct, 1e-9)
}

func TestSessionsZeroCapacity(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result>
<num-active>0</num-active><num-max>0</num-max></result></response>`))

	s, err := p.Sessions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, s.UtilizationPct)
}

func counterBody(ibytes, obytes, ipackets, opackets, ierrors int64) string {
	return fmt.Sprintf(`<response status="success"><result><ifnet><ifnet>
<entry><name>ethernet1/1</name><ibytes>%d</ibytes><obytes>%d</obytes>
<ipackets>%d</ipackets><opackets>%d</opackets><ierrors>%d</ierrors><oerrors>0</oerrors></entry>
<entry><name>ethernet1/2</name><ibytes>999999999</ibytes><obytes>999999999</obytes>
<ipackets>1</ipackets><opackets>1</opackets><ierrors>0</ierrors><oerrors>0</oerrors></entry>
</ifnet></ifnet></result></response>`, ibytes, obytes, ipackets, opackets, ierrors)
}

func TestThroughputCounterDeltas(t *testing.T) {
	var calls atomic.Int64
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, counterBody(1_000_000, 2_000_000, 10_000, 20_000, 3))
			return
		}
		fmt.Fprint(w, counterBody(451_000_000, 227_000_000, 310_000, 140_000, 7))
	}), func(cfg *Config) {
		cfg.MonitoredInterfaces = []string{"ethernet1/1"}
	})

	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return t0 }

	first, err := p.Throughput(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first.InMbps, "first poll has no baseline")
	assert.Equal(t, int64(1_000_000), first.BytesIn, "monitored filter excludes ethernet1/2")

	p.now = func() time.Time { return t0.Add(time.Minute) }

	second, err := p.Throughput(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 60.0, second.InMbps, 1e-9)   // 450 MB over 60s
	assert.InDelta(t, 30.0, second.OutMbps, 1e-9)  // 225 MB over 60s
	assert.InDelta(t, 5000.0, second.PacketsInPerSec, 1e-9)
	assert.InDelta(t, 2000.0, second.PacketsOutPerSec, 1e-9)
	assert.Equal(t, int64(4), second.InterfaceErrors)
}

func TestThroughputCounterReset(t *testing.T) {
	var calls atomic.Int64
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, counterBody(5_000_000, 5_000_000, 100, 100, 0))
			return
		}
		fmt.Fprint(w, counterBody(1_000, 1_000, 5, 5, 0)) // appliance rebooted
	}))

	t0 := time.Now()
	p.now = func() time.Time { return t0 }
	_, err := p.Throughput(context.Background())
	require.NoError(t, err)

	p.now = func() time.Time { return t0.Add(time.Minute) }
	second, err := p.Throughput(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.InMbps, "counter reset clamps to zero")
}

func TestResources(t *testing.T) {
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cmd := r.URL.Query().Get("cmd")
		switch {
		case strings.Contains(cmd, "resource-monitor"):
			fmt.Fprint(w, `<response status="success"><result><resource-monitor><data-processors><dp0><minute>
<cpu-load-average><entry><coreid>0</coreid><value>12</value></entry>
<entry><coreid>1</coreid><value>18</value></entry></cpu-load-average>
</minute></dp0></data-processors></resource-monitor></result></response>`)
		case strings.Contains(cmd, "<resources>"):
			fmt.Fprint(w, `<response status="success"><result><![CDATA[top - 10:11:12 up 41 days
%Cpu(s):  2.2 us,  1.0 sy,  0.0 ni, 96.3 id,  0.4 wa,  0.0 hi,  0.1 si,  0.0 st
MiB Mem :   7116.4 total,    176.4 free,   4340.1 used,   2599.9 buff/cache]]></result></response>`)
		case strings.Contains(cmd, "disk-space"):
			fmt.Fprint(w, `<response status="success"><result><![CDATA[Filesystem Size Used Avail Use% Mounted on
/dev/root 6.9G 4.2G 2.4G 64% /
/dev/sda8 143G 30G 106G 22% /opt/panlogs]]></result></response>`)
		case strings.Contains(cmd, "environmentals"):
			fmt.Fprint(w, `<response status="success"><result><thermal><Slot1>
<entry><description>CPU</description><DegreesC>49.9</DegreesC></entry>
<entry><description>Rear</description><DegreesC>30.3</DegreesC></entry>
</Slot1></thermal></result></response>`)
		default:
			t.Errorf("unexpected cmd %q", cmd)
		}
	}))

	res, err := p.Resources(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 15.0, res.CPUDataPlanePct, 1e-9)
	assert.InDelta(t, 3.7, res.CPUMgmtPlanePct, 0.01)
	assert.InDelta(t, 60.99, res.MemoryUsedPct, 0.01)
	assert.Equal(t, 64.0, res.DiskRootPct)
	assert.Equal(t, 22.0, res.DiskLogPct)
	assert.Equal(t, 49.9, res.TemperatureC)
}

func TestResourcesTemperatureBestEffort(t *testing.T) {
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cmd := r.URL.Query().Get("cmd")
		switch {
		case strings.Contains(cmd, "resource-monitor"):
			fmt.Fprint(w, `<response status="success"><result><resource-monitor><data-processors><dp0><minute>
<cpu-load-average><entry><coreid>0</coreid><value>10</value></entry></cpu-load-average>
</minute></dp0></data-processors></resource-monitor></result></response>`)
		case strings.Contains(cmd, "<resources>"):
			fmt.Fprint(w, `<response status="success"><result>%Cpu(s): 1.0 us, 0.5 sy, 0.0 ni, 98.0 id
MiB Mem : 100.0 total, 50.0 free, 40.0 used, 10.0 buff/cache</result></response>`)
		case strings.Contains(cmd, "disk-space"):
			fmt.Fprint(w, `<response status="success"><result>/dev/root 6.9G 4.2G 2.4G 10% /</result></response>`)
		case strings.Contains(cmd, "environmentals"):
			// VM-series: no thermal hardware
			fmt.Fprint(w, `<response status="error"><msg><line>Chassis environmentals not supported</line></msg></response>`)
		}
	}))

	res, err := p.Resources(context.Background())
	require.NoError(t, err, "missing environmentals must not fail the operation")
	assert.Zero(t, res.TemperatureC)
	assert.InDelta(t, 10.0, res.CPUDataPlanePct, 1e-9)
}

func TestInterfaces(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result>
<ifnet><entry><name>ethernet1/1</name><ip>192.0.2.1/24</ip><zone>untrust</zone></entry>
<entry><name>ethernet1/2</name><ip>10.0.0.1/24</ip><zone>trust</zone></entry></ifnet>
<hw><entry><name>ethernet1/1</name><state>up</state></entry>
<entry><name>ethernet1/2</name><state>down</state></entry></hw>
</result></response>`))

	ifaces, err := p.Interfaces(context.Background())
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	assert.Equal(t, Interface{Name: "ethernet1/1", State: "up", IP: "192.0.2.1/24", Zone: "untrust"}, ifaces[0])
	assert.Equal(t, "down", ifaces[1].State)
}

func TestThreatLogsJobFlow(t *testing.T) {
	fastRetries(t)

	var polls atomic.Int64
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "log", q.Get("type"))

		if q.Get("action") == "" {
			assert.Equal(t, "threat", q.Get("log-type"))
			assert.Equal(t, "25", q.Get("nlogs"))
			fmt.Fprint(w, `<response status="success"><result><job>17</job></result></response>`)
			return
		}

		require.Equal(t, "17", q.Get("job-id"))
		if polls.Add(1) == 1 {
			fmt.Fprint(w, `<response status="success"><result><job><status>ACT</status></job></result></response>`)
			return
		}
		fmt.Fprint(w, `<response status="success"><result><job><status>FIN</status></job>
<log><logs count="2">
<entry logid="1"><receive_time>2026/08/25 10:11:12</receive_time><severity>critical</severity>
<threatid>SIP Register Brute-force(40016)</threatid><src>10.0.0.5</src><dst>203.0.113.9</dst>
<app>sip</app><action>reset-both</action><category>brute-force</category><seqno>7001</seqno></entry>
<entry logid="2"><receive_time>2026/08/25 10:11:15</receive_time><severity>high</severity>
<threatid>Generic Spyware(1001)</threatid><src>10.0.0.6</src><dst>198.51.100.2</dst>
<app>web-browsing</app><action>alert</action><category>spyware</category><seqno>7002</seqno></entry>
</logs></log></result></response>`)
	}))

	entries, err := p.ThreatLogs(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), polls.Load(), "poll until FIN")

	first := entries[0]
	assert.Equal(t, "critical", first.Severity)
	assert.Equal(t, "SIP Register Brute-force", first.ThreatName)
	assert.Equal(t, "40016", first.ThreatID)
	assert.Equal(t, "10.0.0.5", first.SourceIP)
	assert.Equal(t, "7001", first.SeqNo)
	assert.Equal(t, time.Date(2026, 8, 25, 10, 11, 12, 0, time.UTC), first.ReceiveTime)
	assert.Contains(t, string(first.Raw), `"src":"10.0.0.5"`, "raw JSON envelope")
}

func TestSystemLogs(t *testing.T) {
	fastRetries(t)

	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "" {
			fmt.Fprint(w, `<response status="success"><result><job>3</job></result></response>`)
			return
		}
		fmt.Fprint(w, `<response status="success"><result><job><status>FIN</status></job>
<log><logs count="1">
<entry logid="9"><receive_time>2026/08/25 09:00:00</receive_time><severity>high</severity>
<module>general</module><eventid>auth-fail</eventid><opaque>failed authentication for user admin</opaque><seqno>881</seqno></entry>
</logs></log></result></response>`)
	}))

	entries, err := p.SystemLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "general", entries[0].Module)
	assert.Equal(t, "failed authentication for user admin", entries[0].Description)
}

func TestApplicationStats(t *testing.T) {
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "report", q.Get("type"))
		assert.Equal(t, "dynamic", q.Get("reporttype"))
		assert.Equal(t, "top-applications-summary", q.Get("reportname"))
		fmt.Fprint(w, `<response status="success"><result><report reportname="top-applications-summary">
<entry><name>ssl</name><nbytes>120000000</nbytes><nsess>420</nsess></entry>
<entry><name>dns</name><nbytes>9000000</nbytes><nsess>1800</nsess></entry>
</report></result></response>`)
	}))

	stats, err := p.ApplicationStats(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, ApplicationStat{Name: "ssl", Bytes: 120000000, Sessions: 420}, stats[0])
}

func TestArpTable(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result><max>1500</max><total>2</total>
<entries><entry><status>  c  </status><ip>10.0.0.20</ip><mac>AA:BB:CC:00:11:22</mac><interface>ethernet1/2</interface></entry>
<entry><status>  s  </status><ip>10.0.0.1</ip><mac>aa:bb:cc:00:11:33</mac><interface>ethernet1/2</interface></entry>
</entries></result></response>`))

	entries, err := p.ArpTable(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ArpEntry{IP: "10.0.0.20", MAC: "aa:bb:cc:00:11:22", Interface: "ethernet1/2", Status: "complete"}, entries[0])
	assert.Equal(t, "static", entries[1].Status)
}

func TestDhcpLeases(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result>
<interface name="ethernet1/3">
<entry><ip>10.0.1.50</ip><mac>DE:AD:BE:EF:00:01</mac><hostname>laptop-9</hostname><state>committed</state></entry>
</interface>
<interface name="ethernet1/4">
<entry><ip>10.0.2.60</ip><mac>de:ad:be:ef:00:02</mac><hostname></hostname><state>committed</state></entry>
</interface>
</result></response>`))

	leases, err := p.DhcpLeases(context.Background())
	require.NoError(t, err)
	require.Len(t, leases, 2)
	assert.Equal(t, DhcpLease{IP: "10.0.1.50", MAC: "de:ad:be:ef:00:01", Hostname: "laptop-9", State: "committed"}, leases[0])
}

func TestLicenses(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result><licenses>
<entry><feature>Threat Prevention</feature><description>Threat Prevention</description><expires>2027/01/31</expires><expired>no</expired></entry>
<entry><feature>WildFire License</feature><description>WildFire</description><expires>2025/01/31</expires><expired>yes</expired></entry>
</licenses></result></response>`))

	licenses, err := p.Licenses(context.Background())
	require.NoError(t, err)
	require.Len(t, licenses, 2)
	assert.False(t, licenses[0].Expired)
	assert.True(t, licenses[1].Expired)
}

func TestSoftwareUpdates(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result><sw-updates><versions>
<entry><version>11.1.4-h7</version><released-on>2026/05/01</released-on><downloaded>yes</downloaded><current>yes</current><latest>no</latest></entry>
<entry><version>11.2.2</version><released-on>2026/07/15</released-on><downloaded>no</downloaded><current>no</current><latest>yes</latest></entry>
</versions></sw-updates></result></response>`))

	updates, err := p.SoftwareUpdates(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.True(t, updates[0].Current)
	assert.True(t, updates[1].Latest)
}

func TestContentUpdates(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="success"><result><content-updates>
<entry><version>8905-9215</version><type>contents</type><released-on>2026/08/20</released-on><downloaded>yes</downloaded><current>yes</current></entry>
</content-updates></result></response>`))

	updates, err := p.ContentUpdates(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "contents", updates[0].ContentKind)
	assert.True(t, updates[0].Current)
}

func TestTechSupportJob(t *testing.T) {
	var statusCalls atomic.Int64
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "export", q.Get("type"))
		require.Equal(t, "tech-support", q.Get("category"))

		if q.Get("action") == "" {
			fmt.Fprint(w, `<response status="success"><result><job>42</job></result></response>`)
			return
		}
		require.Equal(t, "42", q.Get("job-id"))
		if statusCalls.Add(1) == 1 {
			fmt.Fprint(w, `<response status="success"><result><job><status>ACT</status><progress>55</progress></job></result></response>`)
			return
		}
		fmt.Fprint(w, `<response status="success"><result><job><status>FIN</status><progress>100</progress></job></result></response>`)
	}))

	jobID, err := p.StartTechSupportJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", jobID)

	job, err := p.TechSupportJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, job.Finished)
	assert.Equal(t, 55, job.Progress)

	job, err = p.TechSupportJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.True(t, job.Finished)
}

func TestAuthFailedFromEnvelope(t *testing.T) {
	var calls atomic.Int64
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `<response status="error" code="403"><result><msg>Invalid credential</msg></result></response>`)
	}))

	_, err := p.SystemInfo(context.Background())
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindAuthFailed, opErr.Kind)
	assert.False(t, opErr.Transient())
	assert.Equal(t, int64(1), calls.Load(), "auth failures are not retried")
}

func TestAuthFailedFromHTTPStatus(t *testing.T) {
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := p.SystemInfo(context.Background())
	assert.Equal(t, KindAuthFailed, KindOf(err))
}

func TestRateLimited(t *testing.T) {
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := p.SystemInfo(context.Background())
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindRateLimited, opErr.Kind)
	assert.False(t, opErr.Transient())
}

func TestRateLimitedFromEnvelope(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="error"><msg><line>Too many requests. Please try again later.</line></msg></response>`))

	_, err := p.SystemInfo(context.Background())
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestBadResponseOnGarbage(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`this is not xml at all`))

	_, err := p.SystemInfo(context.Background())
	assert.Equal(t, KindBadResponse, KindOf(err))
}

func TestBadResponseOnApplianceError(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="error"><msg><line>Unknown command</line></msg></response>`))

	_, err := p.SystemInfo(context.Background())
	assert.Equal(t, KindBadResponse, KindOf(err))
}

func TestTimeoutRetriesThenFails(t *testing.T) {
	fastRetries(t)

	var calls atomic.Int64
	p := newTestPanOS(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(500 * time.Millisecond)
	}), func(cfg *Config) {
		cfg.ReadTimeout = 50 * time.Millisecond
	})

	_, err := p.SystemInfo(context.Background())
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindTimeout, opErr.Kind)
	assert.True(t, opErr.Transient())
	assert.Equal(t, int64(3), calls.Load(), "initial attempt plus two retries")
}

func TestUnreachable(t *testing.T) {
	fastRetries(t)

	srv := httptest.NewTLSServer(xmlHandler("unused"))
	host := strings.TrimPrefix(srv.URL, "https://")
	srv.Close()

	p := NewPanOS(Config{Host: host, APIKey: "k"})
	_, err := p.SystemInfo(context.Background())
	assert.Equal(t, KindUnreachable, KindOf(err))
}

func TestCircuitBreakerOpensAfterTransportFailures(t *testing.T) {
	fastRetries(t)

	srv := httptest.NewTLSServer(xmlHandler("unused"))
	host := strings.TrimPrefix(srv.URL, "https://")
	srv.Close()

	p := NewPanOS(Config{Host: host, APIKey: "k"})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := p.SystemInfo(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, p.breaker.State())

	start := time.Now()
	_, err := p.SystemInfo(ctx)
	assert.Equal(t, KindUnreachable, KindOf(err))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "open breaker fails fast")
}

func TestAPIErrorsDoNotTripBreaker(t *testing.T) {
	p := newTestPanOS(t, xmlHandler(`<response status="error" code="403"><result><msg>Invalid credential</msg></result></response>`))

	for i := 0; i < 8; i++ {
		_, err := p.SystemInfo(context.Background())
		require.Equal(t, KindAuthFailed, KindOf(err))
	}
	assert.Equal(t, gobreaker.StateClosed, p.breaker.State(), "auth failures are not transport failures")
}
