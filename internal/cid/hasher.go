package cid

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// File is one entry of an image set: a slash-separated path and its bytes.
type File struct {
	Path    string
	Content []byte
}

// Result is the hash of one image-set entry. Size is the cumulative DAG size.
type Result struct {
	Path string `json:"path"`
	CID  string `json:"cid"`
	Size uint64 `json:"size"`
}

// Hasher computes CIDv0 identifiers in only-hash mode.
// A Hasher is stateless and safe for concurrent use.
type Hasher struct {
	im importer
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithChunkSize overrides the fixed chunk size. Changing it changes every
// multi-chunk CID, so it exists for tests of the layout only.
func WithChunkSize(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.im.chunkSize = n
		}
	}
}

// WithMaxLinks overrides the balanced layout fan-out. Test use only.
func WithMaxLinks(n int) Option {
	return func(h *Hasher) {
		if n > 1 {
			h.im.maxLinks = n
		}
	}
}

// New returns a Hasher holding the HashOnly capability.
func New(opts ...Option) *Hasher {
	h := &Hasher{im: importer{
		chunkSize:  DefaultChunkSize,
		maxLinks:   DefaultMaxLinks,
		capability: HashOnly{},
	}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Capability returns the block store capability the hasher runs under.
func (h *Hasher) Capability() Capability {
	return h.im.capability
}

// HashScalar drains r and returns the CID of its bytes.
func (h *Hasher) HashScalar(ctx context.Context, r io.Reader) (string, error) {
	if r == nil {
		return "", &ReadError{Err: io.ErrUnexpectedEOF}
	}
	root, err := h.im.file(ctx, r)
	if err != nil {
		return "", err
	}
	return root.ID.String(), nil
}

// HashBytes returns the CID of b.
func (h *Hasher) HashBytes(b []byte) (string, error) {
	return h.HashScalar(context.Background(), bytes.NewReader(b))
}

// dirNode is a directory under construction.
type dirNode struct {
	path     string
	files    []link
	children map[string]*dirNode
}

func newDirNode(p string) *dirNode {
	return &dirNode{path: p, children: make(map[string]*dirNode)}
}

// HashImageSet hashes the variants of one logical image (or any set of files
// sharing one top-level directory). It returns one Result per input file in
// input order, then one per directory, deepest first, with the shared root
// directory last. A content-less entry naming the root directory is accepted
// and folded into the root result.
func (h *Hasher) HashImageSet(files []File) ([]Result, error) {
	if len(files) == 0 {
		return nil, ErrEmptyInput
	}

	paths := make([]string, len(files))
	seen := make(map[string]bool, len(files))
	var dirEntries []int
	rootName := ""
	for i, f := range files {
		p, err := cleanPath(f.Path)
		if err != nil {
			return nil, err
		}
		top, _, _ := strings.Cut(p, "/")
		switch {
		case !strings.Contains(p, "/") && len(f.Content) == 0:
			// Content-less top-level entry names the root directory itself.
			dirEntries = append(dirEntries, i)
		case !strings.Contains(p, "/"):
			return nil, &PathError{Path: f.Path, Reason: "not inside a directory"}
		case rootName == "":
			rootName = top
		case top != rootName:
			return nil, &PathError{Path: f.Path, Reason: "does not share directory " + rootName}
		}
		if seen[p] {
			return nil, &PathError{Path: f.Path, Reason: "duplicate path"}
		}
		seen[p] = true
		paths[i] = p
	}
	for _, i := range dirEntries {
		switch {
		case rootName == "":
			return nil, &PathError{Path: files[i].Path, Reason: "not inside a directory"}
		case paths[i] != rootName:
			return nil, &PathError{Path: files[i].Path, Reason: "does not share directory " + rootName}
		}
	}

	root := newDirNode(rootName)
	results := make([]Result, 0, len(files)+1)
	for i, f := range files {
		if paths[i] == rootName {
			continue
		}
		blk, err := h.im.file(context.Background(), bytes.NewReader(f.Content))
		if err != nil {
			return nil, err
		}
		dir, name, err := root.place(paths[i])
		if err != nil {
			return nil, err
		}
		dir.files = append(dir.files, link{Name: name, Hash: blk.ID, Tsize: blk.CumulativeSize})
		results = append(results, Result{Path: paths[i], CID: blk.ID.String(), Size: blk.CumulativeSize})
	}

	dirResults, _, err := h.buildDir(root)
	if err != nil {
		return nil, err
	}
	return append(results, dirResults...), nil
}

// place walks (creating as needed) the directories of p below the root and
// returns the parent directory and base name.
func (d *dirNode) place(p string) (*dirNode, string, error) {
	segments := strings.Split(p, "/")
	cur := d
	for i, seg := range segments[1 : len(segments)-1] {
		next, ok := cur.children[seg]
		if !ok {
			next = newDirNode(strings.Join(segments[:i+2], "/"))
			cur.children[seg] = next
		}
		cur = next
	}
	name := segments[len(segments)-1]
	if _, clash := cur.children[name]; clash {
		return nil, "", &PathError{Path: p, Reason: "file and directory share a name"}
	}
	for _, f := range cur.files {
		if f.Name == name {
			return nil, "", &PathError{Path: p, Reason: "duplicate path"}
		}
	}
	return cur, name, nil
}

// buildDir imports d bottom-up. Subdirectory results come first in name
// order, then d itself.
func (h *Hasher) buildDir(d *dirNode) ([]Result, block, error) {
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		if d.hasFile(name) {
			return nil, block{}, &PathError{Path: d.path + "/" + name, Reason: "file and directory share a name"}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var results []Result
	links := append([]link(nil), d.files...)
	for _, name := range names {
		sub, blk, err := h.buildDir(d.children[name])
		if err != nil {
			return nil, block{}, err
		}
		results = append(results, sub...)
		links = append(links, link{Name: name, Hash: blk.ID, Tsize: blk.CumulativeSize})
	}

	blk, err := h.im.directory(links)
	if err != nil {
		return nil, block{}, err
	}
	results = append(results, Result{Path: d.path, CID: blk.ID.String(), Size: blk.CumulativeSize})
	return results, blk, nil
}

func (d *dirNode) hasFile(name string) bool {
	for _, f := range d.files {
		if f.Name == name {
			return true
		}
	}
	return false
}

// cleanPath NFC-normalises p and rejects anything that would not be a plain
// relative path inside the set.
func cleanPath(p string) (string, error) {
	n := norm.NFC.String(strings.TrimPrefix(p, "/"))
	if n == "" {
		return "", &PathError{Path: p, Reason: "empty"}
	}
	for _, seg := range strings.Split(n, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", &PathError{Path: p, Reason: "must not contain empty, '.' or '..' segments"}
		}
	}
	return path.Clean(n), nil
}

var defaultHasher = New()

// HashScalar hashes r with the default only-hash Hasher.
func HashScalar(ctx context.Context, r io.Reader) (string, error) {
	return defaultHasher.HashScalar(ctx, r)
}

// HashBytes hashes b with the default only-hash Hasher.
func HashBytes(b []byte) (string, error) {
	return defaultHasher.HashBytes(b)
}

// HashImageSet hashes files with the default only-hash Hasher.
func HashImageSet(files []File) ([]Result, error) {
	return defaultHasher.HashImageSet(files)
}
