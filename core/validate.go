package core

// ValidateFunc decides whether a block may enter the mesh. It is evaluated
// for every queued block at each gossip step, so a block that stays queued
// is evaluated again in later rounds; a false verdict marks the block
// rejected and returns it to the sender. Deployments replace the default
// with transaction-signature verification over the collected receiver
// signatures.
type ValidateFunc func(*Block) bool

// DefaultValidate approves every block that has not been explicitly
// rejected beforehand.
func DefaultValidate(b *Block) bool {
	return !b.IsRejected()
}
