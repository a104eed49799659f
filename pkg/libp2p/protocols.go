package libp2p

const (
	// BeaconTopic carries beacon, request and response frames.
	BeaconTopic = "/gopass/streetpass/1.0.0"

	// MDNSServiceName scopes local network discovery to GoPass nodes.
	MDNSServiceName = "gopass-streetpass"
)
