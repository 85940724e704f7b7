package cid

import (
	"context"
	"errors"
	"io"
)

const (
	// DefaultChunkSize is the fixed chunker size used by `ipfs add`.
	DefaultChunkSize = 262144

	// DefaultMaxLinks is the balanced layout's maximum children per node.
	DefaultMaxLinks = 174
)

// importer turns byte streams and directory trees into dag-pb blocks.
type importer struct {
	chunkSize  int
	maxLinks   int
	capability Capability
}

// emit computes the CID of an encoded node and hands it to the capability.
func (im *importer) emit(raw []byte, linkTotal, fileSize uint64) (block, error) {
	id, err := sumV0(raw)
	if err != nil {
		return block{}, err
	}
	if err := admit(im.capability); err != nil {
		return block{}, err
	}
	return block{
		ID:             id,
		EncodedSize:    uint64(len(raw)),
		CumulativeSize: uint64(len(raw)) + linkTotal,
		FileSize:       fileSize,
	}, nil
}

// file imports r as a UnixFS file and returns its root block.
// r is drained completely; a read failure aborts the import.
func (im *importer) file(ctx context.Context, r io.Reader) (block, error) {
	var leaves []block
	buf := make([]byte, im.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return block{}, &ReadError{Err: err}
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 || (len(leaves) == 0 && errors.Is(err, io.EOF)) {
			leaf, emitErr := im.leaf(buf[:n])
			if emitErr != nil {
				return block{}, emitErr
			}
			leaves = append(leaves, leaf)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return block{}, &ReadError{Err: err}
		}
	}
	return im.balance(leaves)
}

func (im *importer) leaf(chunk []byte) (block, error) {
	raw := encodeNode(nil, fileData(chunk, uint64(len(chunk)), nil))
	return im.emit(raw, 0, uint64(len(chunk)))
}

// balance reduces leaves level by level in groups of maxLinks until a single
// root remains. A single leaf is its own root.
func (im *importer) balance(level []block) (block, error) {
	for len(level) > 1 {
		next := make([]block, 0, (len(level)+im.maxLinks-1)/im.maxLinks)
		for start := 0; start < len(level); start += im.maxLinks {
			end := min(start+im.maxLinks, len(level))
			parent, err := im.parent(level[start:end])
			if err != nil {
				return block{}, err
			}
			next = append(next, parent)
		}
		level = next
	}
	return level[0], nil
}

func (im *importer) parent(children []block) (block, error) {
	links := make([]link, len(children))
	sizes := make([]uint64, len(children))
	var fileSize, linkTotal uint64
	for i, c := range children {
		links[i] = link{Name: "", Hash: c.ID, Tsize: c.CumulativeSize}
		sizes[i] = c.FileSize
		fileSize += c.FileSize
		linkTotal += c.CumulativeSize
	}
	raw := encodeNode(links, fileData(nil, fileSize, sizes))
	return im.emit(raw, linkTotal, fileSize)
}

// directory builds a UnixFS directory from already-imported entries.
func (im *importer) directory(entries []link) (block, error) {
	links := append([]link(nil), entries...)
	sortLinks(links)
	var linkTotal uint64
	for _, l := range links {
		linkTotal += l.Tsize
	}
	raw := encodeNode(links, directoryData())
	return im.emit(raw, linkTotal, 0)
}
