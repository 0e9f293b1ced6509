package identity

// DID is a self-sovereign decentralized identifier of the form
// "did:duxnet:<hex-of-ed25519-public-key>". The public key is recoverable
// directly from the identifier, which is what lets Verify authenticate
// artifacts without a round trip through the DHT.
type DID string

// NodeID, ServiceID and TaskID are opaque string-wrapped identifier types.
// The DHT, escrow, task and reputation packages key their records with
// plain strings and do not use them.
type NodeID string
type ServiceID string
type TaskID string

// Record is the immutable, published form of a DID: public key plus the
// network endpoints the owner advertises. Once published to the DHT it is
// never mutated — a key rotation publishes a new DID.
type Record struct {
	ID        DID      `json:"id"`
	PublicKey []byte   `json:"public_key"`
	Endpoints []string `json:"endpoints"`
	CreatedAt int64    `json:"created_at"`
}
