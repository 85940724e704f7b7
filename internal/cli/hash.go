package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/contentnode/internal/cid"
)

// HashResult is the output of hash.
type HashResult struct {
	Path string `json:"path"`
	CID  string `json:"cid"`
}

// Text renders the result like `ipfs add --only-hash`.
func (r HashResult) Text() string {
	return fmt.Sprintf("%s %s\n", r.CID, r.Path)
}

// ImageSetResult is the output of hash-images.
type ImageSetResult struct {
	Root    cid.Result   `json:"root"`
	Entries []cid.Result `json:"entries"`
}

func (r ImageSetResult) Text() string {
	var b strings.Builder
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%s %s %d\n", e.CID, e.Path, e.Size)
	}
	return b.String()
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file>",
		Short: "Compute the CIDv0 of a file",
		Long: `Compute the CIDv0 of a file without storing any blocks.

The identifier matches what an IPFS node reports for the same bytes with
default settings (256 KiB chunks, balanced layout, sha2-256).

Example:
  cnode hash ./track.mp3
  cnode hash --format json ./cover.jpg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(rootOpts, args[0], cmd)
		},
	}
}

func runHash(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	f, err := os.Open(path)
	if err != nil {
		_ = formatter.Error(ErrCodeRead, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open file", err)
	}
	defer f.Close()

	id, err := cid.HashScalar(commandContext(cmd), f)
	if err != nil {
		return hashFailure(formatter, err)
	}
	return formatter.Success(HashResult{Path: path, CID: id})
}

// NewHashImagesCommand creates the hash-images command.
func NewHashImagesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-images <dir>",
		Short: "Compute the CIDs of an image set directory",
		Long: `Compute the CIDs of every regular file in a directory and of the
directory itself, as one image set.

Entries are printed in directory order followed by the set root, which is
the CID stored on profile records.

Example:
  cnode hash-images ./profile-picture`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashImages(rootOpts, args[0], cmd)
		},
	}
}

func runHashImages(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	files, err := readImageSet(dir)
	if err != nil {
		_ = formatter.Error(ErrCodeRead, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read image set", err)
	}
	formatter.VerboseLog("Hashing %d file(s) in %s", len(files), dir)

	results, err := cid.HashImageSet(files)
	if err != nil {
		return hashFailure(formatter, err)
	}
	return formatter.Success(ImageSetResult{
		Root:    results[len(results)-1],
		Entries: results,
	})
}

// readImageSet loads the regular files of dir as "<base>/<name>" entries.
// Subdirectories are skipped.
func readImageSet(dir string) ([]cid.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(filepath.Clean(dir))
	var files []cid.File
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, cid.File{Path: base + "/" + e.Name(), Content: content})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files in %s", dir)
	}
	return files, nil
}

func hashFailure(formatter *OutputFormatter, err error) error {
	code := ErrCodeHash
	var readErr *cid.ReadError
	if errors.As(err, &readErr) {
		code = ErrCodeRead
	}
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitFailure, "hash failed", err)
}
