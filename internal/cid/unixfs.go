package cid

import (
	"bytes"
	"sort"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"google.golang.org/protobuf/encoding/protowire"
)

// UnixFS data types (unixfs.proto, Data.DataType).
const (
	unixfsDirectory = 1
	unixfsFile      = 2
)

// Field numbers of the dag-pb and UnixFS protobuf messages.
const (
	pbNodeData  protowire.Number = 1
	pbNodeLinks protowire.Number = 2

	pbLinkHash  protowire.Number = 1
	pbLinkName  protowire.Number = 2
	pbLinkTsize protowire.Number = 3

	unixfsType       protowire.Number = 1
	unixfsData       protowire.Number = 2
	unixfsFilesize   protowire.Number = 3
	unixfsBlocksizes protowire.Number = 4
)

// link is a dag-pb PBLink.
type link struct {
	Name  string
	Hash  gocid.Cid
	Tsize uint64
}

// block is an encoded dag-pb node together with the sizes a parent needs.
type block struct {
	ID gocid.Cid

	// EncodedSize is len(dag-pb bytes).
	EncodedSize uint64

	// CumulativeSize is EncodedSize plus the Tsize of every link: the value a
	// parent records as this block's Tsize.
	CumulativeSize uint64

	// FileSize is the number of file bytes below this block (0 for directories).
	FileSize uint64
}

// fileData encodes a UnixFS File message. data is omitted when empty,
// filesize is always present.
func fileData(data []byte, filesize uint64, blocksizes []uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, unixfsType, protowire.VarintType)
	b = protowire.AppendVarint(b, unixfsFile)
	if len(data) > 0 {
		b = protowire.AppendTag(b, unixfsData, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
	}
	b = protowire.AppendTag(b, unixfsFilesize, protowire.VarintType)
	b = protowire.AppendVarint(b, filesize)
	// proto2 repeated scalars are unpacked.
	for _, size := range blocksizes {
		b = protowire.AppendTag(b, unixfsBlocksizes, protowire.VarintType)
		b = protowire.AppendVarint(b, size)
	}
	return b
}

// directoryData encodes a UnixFS Directory message.
func directoryData() []byte {
	var b []byte
	b = protowire.AppendTag(b, unixfsType, protowire.VarintType)
	b = protowire.AppendVarint(b, unixfsDirectory)
	return b
}

// encodeNode produces canonical dag-pb bytes: links first, then data.
func encodeNode(links []link, data []byte) []byte {
	var b []byte
	for _, l := range links {
		var lb []byte
		lb = protowire.AppendTag(lb, pbLinkHash, protowire.BytesType)
		lb = protowire.AppendBytes(lb, l.Hash.Bytes())
		lb = protowire.AppendTag(lb, pbLinkName, protowire.BytesType)
		lb = protowire.AppendString(lb, l.Name)
		lb = protowire.AppendTag(lb, pbLinkTsize, protowire.VarintType)
		lb = protowire.AppendVarint(lb, l.Tsize)

		b = protowire.AppendTag(b, pbNodeLinks, protowire.BytesType)
		b = protowire.AppendBytes(b, lb)
	}
	if data != nil {
		b = protowire.AppendTag(b, pbNodeData, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
	}
	return b
}

// sumV0 returns the CIDv0 of raw dag-pb bytes.
func sumV0(raw []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(raw, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, &HashEngineError{Err: err}
	}
	return gocid.NewCidV0(mh), nil
}

// sortLinks orders directory links by name bytes, as dag-pb requires.
func sortLinks(links []link) {
	sort.SliceStable(links, func(i, j int) bool {
		return bytes.Compare([]byte(links[i].Name), []byte(links[j].Name)) < 0
	})
}
