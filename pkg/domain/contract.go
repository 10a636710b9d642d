package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ContractDirection distinguishes the two halves of a negotiated contract.
type ContractDirection string

const (
	// DirectionInput marks a contract authored by the consumer about itself:
	// "what I need from the producer".
	DirectionInput ContractDirection = "input"

	// DirectionOutput marks a contract authored by the producer in response
	// to a consumer's input contract: "what I provide to the consumer".
	DirectionOutput ContractDirection = "output"
)

// Contract is a persisted declaration between two adjacent nodes, keyed by
// (producer, consumer, direction). A newer contract for the same key fully
// supersedes the prior one; there are no merge semantics.
type Contract struct {
	Producer    string            `json:"producer"`
	Consumer    string            `json:"consumer"`
	Direction   ContractDirection `json:"direction"`
	Content     string            `json:"content"`
	Version     string            `json:"version"` // content hash
	GeneratedAt time.Time         `json:"generated_at"`
}

// NewContract builds a contract record with its version set to the SHA-256
// hash of the content.
func NewContract(producer, consumer string, direction ContractDirection, content string) Contract {
	return Contract{
		Producer:    producer,
		Consumer:    consumer,
		Direction:   direction,
		Content:     content,
		Version:     ContentVersion(content),
		GeneratedAt: time.Now().UTC(),
	}
}

// ContentVersion returns the hex SHA-256 hash of the contract content.
func ContentVersion(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
