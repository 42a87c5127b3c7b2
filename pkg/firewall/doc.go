/*
Package firewall implements the PAN-OS appliance client.

The management API is XML over HTTPS: operational commands are HTTP GETs of
the form

	https://{host}/api/?type=op&cmd=<xml-command>&key={api-key}

and log retrieval is a two-phase job (submit query, poll until FIN).
Responses share an outer <response status=...> envelope; each operation
decodes its result with a typed struct.

# Failure model

Every operation returns a structured result or an *OpError whose Kind is one
of Timeout, Unreachable, AuthFailed, BadResponse or RateLimited. Transient
kinds (Timeout, Unreachable) are retried up to twice per operation with
exponential backoff and jitter; the other kinds fail immediately so a bad
API key never burns a collection tick on retries.

A per-appliance circuit breaker opens after five consecutive transport
failures and half-opens after 60 seconds. While open, operations fail fast
with Unreachable instead of waiting out connect timeouts, so one dead
appliance costs the collector a few microseconds per tick rather than
seconds.

# Timeouts

Connect 5s, read 10s, and 60s for log jobs and tech-support exports. All
three are configurable per device.

# TLS

Certificate verification is off by default: appliance management interfaces
ship with self-signed certificates and operators rarely replace them. Setting
Config.VerifyTLS restores full verification for fleets with a real PKI.

# Throughput rates

The appliance exposes monotonic interface counters, not rates. The client
keeps the previous counter snapshot per appliance and derives Mbps and
packets/sec from the delta; the first poll after startup reports zero rates,
and counter resets clamp to zero instead of going negative.
*/
package firewall
