// Command import_books loads books from a JSON array into the library
// database. Each entry goes through the same validation as the HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"library-api/api"
	"library-api/config"
	"library-api/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// bookRecord is one entry of the import file.
type bookRecord struct {
	Title         *string `json:"title"`
	Author        *string `json:"author"`
	PublishedYear *int64  `json:"published_year"`
	Status        *string `json:"status"`
	Borrower      *int64  `json:"borrower"`
}

func (rec bookRecord) patch() library.BookPatch {
	p := library.BookPatch{Title: rec.Title, Author: rec.Author, PublishedYear: rec.PublishedYear}
	if rec.Status != nil {
		st := library.BookStatus(strings.TrimSpace(*rec.Status))
		p.Status = &st
	}
	if rec.Borrower != nil {
		p.Borrower = &sql.NullInt64{Int64: *rec.Borrower, Valid: true}
	}
	return p
}

type creator interface {
	CreateBook(ctx context.Context, p library.BookPatch) (*library.Book, error)
}

type result struct {
	imported int
	failed   int
}

// importBooks creates every record in r and reports each outcome to out.
func importBooks(ctx context.Context, lib creator, r io.Reader, out io.Writer) (result, error) {
	var records []bookRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return result{}, fmt.Errorf("decode books: %w", err)
	}

	var res result
	for i, rec := range records {
		book, err := lib.CreateBook(ctx, rec.patch())
		var verr *library.ValidationError
		switch {
		case errors.As(err, &verr):
			fmt.Fprintf(out, "#%d: ERROR - %s\n", i+1, strings.Join(api.FlattenErrors(verr), "; "))
			res.failed++
		case err != nil:
			return res, fmt.Errorf("book #%d: %w", i+1, err)
		default:
			fmt.Fprintf(out, "#%d: %s by %s... SUCCESS (ID: %d)\n", i+1, book.Title, book.Author, book.ID)
			res.imported++
		}
	}
	return res, nil
}

func main() {
	var configPath, file string
	cmd := &cobra.Command{
		Use:          "import_books",
		Short:        "Import books from a JSON file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			manager, err := library.NewLibraryManager(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer manager.Close()

			res, err := importBooks(cmd.Context(), manager, f, cmd.OutOrStdout())
			logger.WithFields(logrus.Fields{
				"file":     file,
				"imported": res.imported,
				"failed":   res.failed,
			}).Info("import complete")
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding an array of books")
	_ = cmd.MarkFlagRequired("file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
