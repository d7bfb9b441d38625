package constants

const (
	PathHealth = "/health"
	PathReady  = "/ready"
	PathWS     = "/ws/presence"
)
