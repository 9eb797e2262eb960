package protocol

// SensorSnapshot is a node's current readings. The local node owns
// exactly one; copies of remote snapshots arriving over the mesh are
// cached whole and overwritten on each arrival, never merged.
type SensorSnapshot struct {
	NodeID         string  `json:"nodeId"`
	DeviceName     string  `json:"deviceName"`
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
	SoilMoisture   int     `json:"soilMoisture"`
	MotionDetected bool    `json:"motionDetected"`
	WaterLevelCM   float64 `json:"waterLevelCm"`
	RelayOn        bool    `json:"relayOn"`
	// Timestamp is the owning node's uptime in milliseconds: an opaque
	// monotonic marker ordered only within that node's boot session.
	Timestamp int64 `json:"timestamp"`
}
