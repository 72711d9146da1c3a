package interfaces

import "time"

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string    `json:"state"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	StoreDriver      string    `json:"store_driver"`
	WebsocketClients int       `json:"websocket_clients"`
	EventSubscribers int       `json:"event_subscribers"`
	MQTTEnabled      bool      `json:"mqtt_enabled"`
}

// StatusProvider is implemented by the lifecycle manager and read by the
// REST API, which cannot import it directly.
type StatusProvider interface {
	GetCurrentStatus() SystemStatus
}
