package wire

// PeerInfo is a peer's public advertisement, carried as the content of a
// KindPeerInfo event.  The pubkey of the advertising peer comes from the
// event envelope, not from the content.
type PeerInfo struct {
	// ILPAddress is the peer's routing address in the packet network,
	// always prefixed with "g.".
	ILPAddress string `json:"ilpAddress"`

	// BTPEndpoint is the websocket endpoint for the packet transport.
	BTPEndpoint string `json:"btpEndpoint"`

	// HTTPEndpoint, when present, allows packets to be delivered to the
	// peer's business logic server directly over HTTP.
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`

	AssetCode  string `json:"assetCode"`
	AssetScale uint32 `json:"assetScale"`

	// SettlementEngine is a legacy free-form tag.
	SettlementEngine string `json:"settlementEngine,omitempty"`

	// SupportedChains lists the chain identifiers the peer can settle
	// on, in preference order.
	SupportedChains []string `json:"supportedChains"`

	// SettlementAddresses maps chain identifier to the peer's on-chain
	// settlement address.  Every key must appear in SupportedChains.
	SettlementAddresses map[string]string `json:"settlementAddresses"`

	// PreferredTokens optionally maps chain identifier to a preferred
	// token contract.
	PreferredTokens map[string]string `json:"preferredTokens,omitempty"`

	// TokenNetworks optionally maps chain identifier to a token network
	// contract.
	TokenNetworks map[string]string `json:"tokenNetworks,omitempty"`
}

// SettlementHints carries the optional settlement descriptors a request
// or advertisement may include.
type SettlementHints struct {
	ILPAddress          string            `json:"ilpAddress,omitempty"`
	SupportedChains     []string          `json:"supportedChains,omitempty"`
	SettlementAddresses map[string]string `json:"settlementAddresses,omitempty"`
	PreferredTokens     map[string]string `json:"preferredTokens,omitempty"`
	TokenNetworks       map[string]string `json:"tokenNetworks,omitempty"`
}

// SettlementRequest is the plaintext carried encrypted inside a
// settlement request event.
type SettlementRequest struct {
	RequestID string `json:"requestId"`
	Timestamp int64  `json:"timestamp"`
	SettlementHints
}

// SettlementResponse is the plaintext carried encrypted inside a
// settlement response event.  The channel fields are present only when
// a channel was opened.
type SettlementResponse struct {
	RequestID          string `json:"requestId"`
	DestinationAccount string `json:"destinationAccount"`

	// SharedSecret is 32 bytes, base64 encoded.
	SharedSecret string `json:"sharedSecret"`

	NegotiatedChain     string `json:"negotiatedChain,omitempty"`
	SettlementAddress   string `json:"settlementAddress,omitempty"`
	TokenAddress        string `json:"tokenAddress,omitempty"`
	TokenNetworkAddress string `json:"tokenNetworkAddress,omitempty"`
	ChannelID           string `json:"channelId,omitempty"`

	// SettlementTimeout is in seconds and positive when present.
	SettlementTimeout int64 `json:"settlementTimeout,omitempty"`
}

// KnownPeer is a seed entry used to drive the bootstrap handshake.
type KnownPeer struct {
	Pubkey   string `json:"pubkey"`
	RelayURL string `json:"relayUrl"`

	// ILPAddress and BTPEndpoint are optional, they are learned from the
	// peer's advertisement when absent.
	ILPAddress  string `json:"ilpAddress,omitempty"`
	BTPEndpoint string `json:"btpEndpoint,omitempty"`
}
