package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/contentnode/internal/cid"
	"github.com/roach88/contentnode/internal/clock"
)

// RecordAddOptions holds flags for record add.
type RecordAddOptions struct {
	*RootOptions
	UserID   int64
	Wallet   string
	Type     string
	Metadata string
	CID      string
	File     string
	ID       string
}

// RecordResult is the output of record add.
type RecordResult struct {
	Record clock.Record `json:"record"`
}

func (r RecordResult) Text() string {
	rec := r.Record
	return fmt.Sprintf("Record %s written (user %d, %s, seq %d, cid %s); clock pending\n",
		rec.ID, rec.UserID, rec.Type, rec.Seq, rec.CID)
}

// NewRecordCommand creates the record command group.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Write user records",
	}
	cmd.AddCommand(NewRecordAddCommand(rootOpts))
	return cmd
}

// NewRecordAddCommand creates the record add command.
func NewRecordAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Write an unclocked record for a user",
		Long: `Write a durable record for a user. The record is stored without a clock;
run "cnode clock assign" to sequence it.

Profile and track records carry a metadata document, stored as canonical
JSON. When no --cid is given the CID comes from --file, or else from the
metadata document.

Example:
  cnode record add --user 42 --wallet 0xabc --type track --metadata '{"title":"t2"}'
  cnode record add --user 42 --wallet 0xabc --type file --file ./track.mp3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordAdd(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id (required)")
	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "user wallet address (required)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "record type: profile, track or file (required)")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "metadata document as JSON")
	cmd.Flags().StringVar(&opts.CID, "cid", "", "content identifier the record refers to")
	cmd.Flags().StringVar(&opts.File, "file", "", "hash this file for the record CID")
	cmd.Flags().StringVar(&opts.ID, "id", "", "record id (default: new UUIDv7)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("type")
	cmd.MarkFlagsMutuallyExclusive("cid", "file")

	return cmd
}

func runRecordAdd(opts *RecordAddOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	rec := clock.Record{
		ID:     opts.ID,
		UserID: opts.UserID,
		Type:   clock.RecordType(opts.Type),
		CID:    opts.CID,
	}
	if !rec.Type.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --type %q: must be profile, track or file", opts.Type))
	}
	if opts.Metadata != "" {
		if !json.Valid([]byte(opts.Metadata)) {
			return NewExitError(ExitCommandError, "invalid --metadata JSON")
		}
		rec.Metadata = json.RawMessage(opts.Metadata)
	}
	if opts.File != "" {
		f, err := os.Open(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open file", err)
		}
		rec.CID, err = cid.HashScalar(ctx, f)
		f.Close()
		if err != nil {
			return hashFailure(formatter, err)
		}
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	if err := st.EnsureUser(ctx, rec.UserID, opts.Wallet); err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to write record", err)
	}
	written, err := st.WriteRecord(ctx, rec)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to write record", err)
	}
	logger.Debug("record written", "user_id", written.UserID, "id", written.ID, "seq", written.Seq)
	return formatter.Success(RecordResult{Record: written})
}
