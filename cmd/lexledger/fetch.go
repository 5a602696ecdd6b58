package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexbox/ledger"
	"github.com/lexbox/ledger/id"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Decrypt a stored document and write its content",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().String("document", "", "document identifier")
	fetchCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
}

func runFetch(cmd *cobra.Command, _ []string) error {
	raw, err := cmd.Flags().GetString("document")
	if err != nil {
		return err
	}
	if raw == "" {
		return errors.New("--document is required")
	}
	docID, err := id.ParseDocumentID(raw)
	if err != nil {
		return err
	}
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	l, cleanup, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := l.Start(ctx); err != nil {
		return err
	}
	defer l.Stop()

	doc, err := l.Retrieve(ctx, docID, cfg.Directory.Actor)
	if err != nil {
		return describe(l, err)
	}
	defer doc.Close()

	var w io.Writer = cmd.OutOrStdout()
	if out != "" {
		f, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := io.Copy(w, doc)
	if err != nil {
		if out != "" {
			_ = os.Remove(out)
		}
		return describe(l, err)
	}
	logger.Info("document fetched",
		"document_id", doc.Document.ID,
		"name", doc.Document.OriginalName,
		"bytes", n,
	)
	return nil
}

// describe replaces internal failures with their client-safe message.
// The ledger logs the full cause under the outcome's correlation id.
func describe(l *ledger.Ledger, err error) error {
	o := l.Describe(err)
	if o.CorrelationID == "" {
		return err
	}
	return fmt.Errorf("%s (ref %s)", o.Message, o.CorrelationID)
}
