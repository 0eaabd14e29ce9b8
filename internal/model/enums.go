package model

type MonitoringState string

const (
	MonitoringIdle   MonitoringState = "idle"
	MonitoringActive MonitoringState = "monitoring"
)

type AudioJobKind string

const (
	AudioJobSpoken AudioJobKind = "spoken"
	AudioJobText   AudioJobKind = "text"
)

// CloseReason is sent to a telemetry client in the websocket close frame.
type CloseReason string

const (
	CloseHandshakeRequired CloseReason = "handshake_required"
	CloseTokenUnknown      CloseReason = "token_unknown"
	CloseTokenExpired      CloseReason = "token_expired"
	CloseDisplaced         CloseReason = "displaced"
	CloseIdleTimeout       CloseReason = "idle_timeout"
	CloseShutdown          CloseReason = "shutdown"
)
