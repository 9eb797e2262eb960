package node

import (
	"math/rand"
	"sync"
	"time"

	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
)

// SimulatedActuator is an in-process stand-in for the irrigation relay
// output. Hardware deployments replace it behind dispatch.Actuator.
type SimulatedActuator struct {
	mu sync.Mutex
	on bool
}

func (a *SimulatedActuator) Set(on bool) {
	a.mu.Lock()
	a.on = on
	a.mu.Unlock()
}

func (a *SimulatedActuator) Toggle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.on = !a.on
	return a.on
}

func (a *SimulatedActuator) State() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

// SimulatedSensors produces plausible field readings with a bounded
// random walk so dashboards and history logs have believable data
// before real probes are wired in. Snapshot timestamps are uptime
// milliseconds, matching what device firmware reports.
type SimulatedSensors struct {
	nodeID     string
	deviceName string
	actuator   *SimulatedActuator
	started    time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	temp     float64
	humidity float64
	soil     float64
	waterCM  float64
}

// NewSimulatedSensors seeds a sensor source for the given identity.
// The actuator is optional; without one, relayOn always reads false.
func NewSimulatedSensors(nodeID, deviceName string, actuator *SimulatedActuator) *SimulatedSensors {
	return &SimulatedSensors{
		nodeID:     nodeID,
		deviceName: deviceName,
		actuator:   actuator,
		started:    time.Now(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		temp:       24.0,
		humidity:   60.0,
		soil:       45.0,
		waterCM:    80.0,
	}
}

func (s *SimulatedSensors) Snapshot() protocol.SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temp = clamp(s.temp+s.rng.Float64()*2-1, 5, 45)
	s.humidity = clamp(s.humidity+s.rng.Float64()*4-2, 10, 100)
	s.soil = clamp(s.soil+s.rng.Float64()*4-2, 0, 100)
	s.waterCM = clamp(s.waterCM+s.rng.Float64()*2-1, 0, 150)

	relayOn := false
	if s.actuator != nil {
		relayOn = s.actuator.State()
	}

	return protocol.SensorSnapshot{
		NodeID:         s.nodeID,
		DeviceName:     s.deviceName,
		Temperature:    s.temp,
		Humidity:       s.humidity,
		SoilMoisture:   int(s.soil),
		MotionDetected: s.rng.Float64() < 0.05,
		WaterLevelCM:   s.waterCM,
		RelayOn:        relayOn,
		Timestamp:      time.Since(s.started).Milliseconds(),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
