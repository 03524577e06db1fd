// Package main hosts the sliver CLI entrypoint.
//
// Architecture overview:
//   - Index lookup: internal/cdx streams paginated CDX queries against a
//     remote capture index, yielding records until the blank-line sentinel
//     and surfacing the optional resume key once the page is drained.
//     internal/sources maps source identifiers to index endpoints and
//     match-type policies in one declarative table.
//   - Source stack: internal/stack walks an ordered tier list (local
//     recordings first, then a remote archive, or the live web alone) to
//     resolve a URL at a timestamp. Non-local hits are written through to
//     the local tier, a bbolt index plus gzipped payload files, so repeat
//     resolutions answer from disk.
//   - Recording proxy: internal/proxy owns one listening session bound to
//     a stack and a mutable default timestamp. Plain proxy requests and
//     CONNECT tunnels (terminated with per-host self-signed leafs) both
//     resolve through the stack; readiness is established by polling the
//     session's own health endpoint with a hard startup deadline.
//   - Capture: internal/capture expands a URL list into screenshot jobs,
//     serializes them to a transient YAML artifact, and drives headless
//     Chrome through the proxy via chromedp, one PNG per job. Batch and
//     job lifecycle events fan out through internal/progress to log and
//     Prometheus sinks without blocking the capture path.
//   - Discovery: internal/harvest walks same-host links from seed pages
//     with a bounded colly collector to produce capture candidates for
//     the fetch command.
//   - Plumbing: Viper populates config from files/env, zap provides
//     structured logging, Prometheus metrics are exported on the proxy's
//     /metrics endpoint, and Cobra wires the lookup, fetch, discover,
//     and serve commands.
package main
