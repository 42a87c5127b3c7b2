/*
Package types defines the core data structures used throughout PANfm.

This package contains all fundamental types that represent the monitoring
domain model, including devices, metric samples, alerts, notification
channels, maintenance windows, and collection requests. These types are used
by all other packages for persistence, API responses, and alert evaluation.

# Architecture

The types package is the foundation of PANfm's data model. It defines:

  - Device registry entries (hosts, API keys, interface lists)
  - Per-poll metric samples with nested session, CPU, disk and license data
  - Auxiliary time series (threat logs, system logs, traffic flows,
    application and client bandwidth, connected devices)
  - Alert configuration, history, severities and comparison operators
  - Notification channel descriptors
  - Maintenance windows and on-demand collection requests

All timestamps that cross the API boundary use ISOTime, which marshals as
ISO-8601 in UTC with a trailing "Z" regardless of the zone they were
produced in.

# Design Principles

 1. No behavior: types carry data and small predicate helpers only.
    Evaluation, persistence and transport live in their own packages.
 2. Nullable means pointer: fields that are NULL in the store (global alert
    scope, acknowledgement times, metadata overrides) are pointers.
 3. Enums are typed strings with a Valid() helper so handlers can reject
    unknown values before they reach the store.
*/
package types
