package cid

import (
	"context"

	gocid "github.com/ipfs/go-cid"
)

// Capability describes what the importer may do with the block store behind it.
//
// The interface is sealed: HashOnly is the only variant this package
// constructs, so the "no storage" rule is part of the type rather than a
// convention.
type Capability interface {
	Get(ctx context.Context, id gocid.Cid) ([]byte, error)
	Put(ctx context.Context, id gocid.Cid, raw []byte) error

	capability()
}

// HashOnly is the capability of a hasher that computes identifiers only.
// Both block store operations are unsupported.
type HashOnly struct{}

var _ Capability = HashOnly{}

func (HashOnly) capability() {}

// Get always fails with an *UnsupportedOperationError.
func (HashOnly) Get(context.Context, gocid.Cid) ([]byte, error) {
	return nil, &UnsupportedOperationError{Operation: "get"}
}

// Put always fails with an *UnsupportedOperationError.
func (HashOnly) Put(context.Context, gocid.Cid, []byte) error {
	return &UnsupportedOperationError{Operation: "put"}
}

// admit is called for every block the importer produces. Under HashOnly the
// block is dropped once its CID is known; any other capability is rejected.
func admit(c Capability) error {
	switch c.(type) {
	case HashOnly:
		return nil
	default:
		return &UnsupportedOperationError{Operation: "persist"}
	}
}
