/*
Package metrics defines and registers the Prometheus metrics exposed by
sandboxd: pool occupancy and waiter depth, environment cache size, job
dispatch outcomes and retries, and the latency of acquire/execute/build
phases. All metrics are registered at package init and exposed via
Handler() for scraping.

Label cardinality is bounded: fingerprint-keyed labels are acceptable here
because the number of distinct dependency sets in flight at once is small
relative to task or request IDs.
*/
package metrics
