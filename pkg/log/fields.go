package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Signaling
	FieldRoomID     = "room_id"
	FieldPeerID     = "peer_id"
	FieldPeerName   = "peer_name"
	FieldTransport  = "transport_id"
	FieldProducerID = "producer_id"
	FieldConsumerID = "consumer_id"

	// Service
	FieldService = "service"
)
