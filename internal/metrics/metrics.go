// Package metrics contains the Prometheus metrics of the DHCP server.
package metrics

// namespace is the common namespace of the metrics.
const namespace = "adguard_dhcp"

// Subsystems of the metrics.
const (
	subsystemServer = "server"
	subsystemPool   = "pool"
)

// Label names.
const (
	labelFamily   = "family"
	labelRequest  = "request"
	labelResponse = "response"
	labelLink     = "link"
	labelPool     = "pool"
)
