package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/monikatyab/anaya-m2m/retrieval"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Index knowledge-base documents for grounded answers",
	Long: `Walks a directory for .txt and .md files, chunks them, and adds them
to the persisted knowledge collection. The wellness and factual
specialists quote from this collection when answering.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := buildApp(logger)
	if err != nil {
		return err
	}
	defer closeApp(a)

	dir := args[0]
	var docs []retrieval.Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			id = path
		}
		docs = append(docs, retrieval.Document{
			ID:     id,
			Source: path,
			Text:   string(raw),
		})
		return nil
	})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no .txt or .md files under %s", dir)
	}

	chunks, err := a.index.AddDocuments(cmd.Context(), docs...)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d documents as %d chunks; collection %q now holds %d chunks.\n",
		len(docs), chunks, a.cfg.Retrieval.Collection, a.index.Count())
	return nil
}
