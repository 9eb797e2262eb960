package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Message type discriminators carried in the "type" field of every
// envelope flooded over the mesh or broadcast over UDP.
const (
	TypeRelayRequest  = "relay_request"
	TypeRelayResponse = "relay_response"
	TypeAnnouncement  = "node_announce"
	TypeDiscovery     = "AgriNodeDiscover"
)

// Discovery packet actions.
const (
	ActionAnnounce = "announce"
	ActionQuery    = "query"
)

// Envelope is the minimal shape decoded to discriminate an incoming
// message before unmarshaling the concrete type.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType returns the type discriminator of a raw message.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("envelope has no type field")
	}
	return env.Type, nil
}

// RelayRequest asks the node identified by TargetNodeID to execute an
// abstract API path and flood the result back toward OriginNodeID.
type RelayRequest struct {
	Type         string `json:"type"`
	TargetNodeID string `json:"targetNodeId"`
	APIPath      string `json:"apiPath"`
	RequestID    string `json:"requestId"`
	OriginNodeID string `json:"originNodeId"`
	PostData     string `json:"postData,omitempty"`
}

// NewRelayRequest builds a request envelope with a fresh correlation id.
func NewRelayRequest(originNodeID, targetNodeID, apiPath, postData string) *RelayRequest {
	return &RelayRequest{
		Type:         TypeRelayRequest,
		TargetNodeID: targetNodeID,
		APIPath:      apiPath,
		RequestID:    NewRequestID(originNodeID),
		OriginNodeID: originNodeID,
		PostData:     postData,
	}
}

// RelayResponse carries a serialized dispatcher result back toward the
// origin of the correlated request. TargetNodeID names the origin node
// the response is routed to, mirroring the request's OriginNodeID.
type RelayResponse struct {
	Type         string          `json:"type"`
	RequestID    string          `json:"requestId"`
	Response     json.RawMessage `json:"response"`
	TargetNodeID string          `json:"targetNodeId"`
}

// NewRelayResponse builds a response envelope correlated to req.
func NewRelayResponse(req *RelayRequest, response json.RawMessage) *RelayResponse {
	return &RelayResponse{
		Type:         TypeRelayResponse,
		RequestID:    req.RequestID,
		Response:     response,
		TargetNodeID: req.OriginNodeID,
	}
}

// NodeAnnouncement is the self-identity envelope flooded over the mesh
// transport on a cadence and on demand.
type NodeAnnouncement struct {
	Type       string `json:"type"`
	NodeID     string `json:"nodeId"`
	DeviceName string `json:"deviceName"`
	StationIP  string `json:"stationIP"`
	APIP       string `json:"apIP"`
	// Timestamp is the sender's uptime in milliseconds. It is an opaque
	// monotonic marker valid only within that node's boot session and
	// must never be interpreted as calendar time.
	Timestamp int64 `json:"timestamp"`
}

// DiscoveryPacket is the cross-subnet UDP discovery envelope. An
// "announce" merges the sender into the receiver's registry; a "query"
// additionally asks the receiver to announce itself right away.
type DiscoveryPacket struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	NodeID     string `json:"nodeId"`
	DeviceName string `json:"deviceName"`
	StationIP  string `json:"stationIP"`
	APIP       string `json:"apIP"`
	MeshSSID   string `json:"meshSSID"`
	Timestamp  int64  `json:"timestamp"`
}

// NewRequestID generates a correlation id unique per call. The origin
// node id prefix keeps the id debuggable in mesh captures; the random
// suffix makes collisions across nodes and reboots negligible.
func NewRequestID(originNodeID string) string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return originNodeID + "-" + hex.EncodeToString(buf[:])
}

// NewNodeID generates a random node id for one boot session, for
// deployments without a configured stable id. Field devices derive
// theirs from hardware identifiers the same way, once per boot.
func NewNodeID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf[:])
}

// UnmarshalMessage deserializes a message from JSON.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
