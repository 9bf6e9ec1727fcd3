package core

const (
	// OJSVersion is the protocol version reported by the server.
	OJSVersion = "1.0.0-rc.1"

	// OJSMediaType is the content type used for all JSON responses.
	OJSMediaType = "application/openjobspec+json"

	// ServiceName identifies this service in logs, traces, and metrics.
	ServiceName = "ojs-lease"
)
