// Package importsubs loads subscriptions from a CSV file.
package importsubs

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Subscriber is the write side of the subscription store.
type Subscriber interface {
	Subscribe(ctx context.Context, subscriberID, feedOrigin, categories string) error
}

// Summary counts what an import did.
type Summary struct {
	Rows     int
	Imported int
	Errors   []string
}

// Importer handles the subscription import process
type Importer struct {
	subs      Subscriber
	remoteURL string
	client    *http.Client
}

// NewImporter creates a new subscription importer. When the CSV file is
// missing and remoteURL is set, the file is downloaded from there first.
func NewImporter(subs Subscriber, remoteURL string) *Importer {
	return &Importer{
		subs:      subs,
		remoteURL: remoteURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Import reads csvPath and subscribes every row. Bad rows are collected in
// the summary and do not stop the import.
func (i *Importer) Import(ctx context.Context, csvPath string) (Summary, error) {
	log.Info().Str("csv", csvPath).Msg("Starting subscription import")

	csvData, err := i.getCSVData(ctx, csvPath)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get CSV data: %w", err)
	}
	if closer, ok := csvData.(io.Closer); ok {
		defer closer.Close()
	}

	summary, err := i.ImportFrom(ctx, csvData)
	if err != nil {
		return summary, fmt.Errorf("failed to import subscriptions: %w", err)
	}

	log.Info().
		Int("total", summary.Rows).
		Int("success", summary.Imported).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")
	return summary, nil
}

func (i *Importer) getCSVData(ctx context.Context, csvPath string) (io.Reader, error) {
	if _, err := os.Stat(csvPath); err == nil {
		log.Info().Str("path", csvPath).Msg("Using local CSV file")
		return os.Open(csvPath)
	}

	if i.remoteURL != "" {
		log.Info().Str("url", i.remoteURL).Str("path", csvPath).Msg("Local CSV file not found. Downloading from remote source")

		reader, err := i.downloadCSV(ctx, i.remoteURL, csvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to download CSV file: %w", err)
		}
		return reader, nil
	}

	return nil, fmt.Errorf("CSV file not found: %s", csvPath)
}

// downloadCSV fetches url, saves a copy at savePath and returns the content.
func (i *Importer) downloadCSV(ctx context.Context, url, savePath string) (io.Reader, error) {
	log.Debug().Str("url", url).Str("savePath", savePath).Msg("Downloading CSV file")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}

	bodyData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if savePath != "" {
		if err := os.WriteFile(savePath, bodyData, 0o644); err != nil {
			return nil, fmt.Errorf("failed to create file %s: %w", savePath, err)
		}
		log.Debug().
			Int("bytes", len(bodyData)).
			Str("path", savePath).
			Msg("Downloaded and saved CSV file")
	}

	return strings.NewReader(string(bodyData)), nil
}

// ImportFrom subscribes every row of csvData. The header must name the
// subscriber and url columns; categories is optional.
func (i *Importer) ImportFrom(ctx context.Context, csvData io.Reader) (Summary, error) {
	reader := csv.NewReader(csvData)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read CSV header: %w", err)
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	subscriberIdx := findColumnIndex(header, "subscriber")
	urlIdx := findColumnIndex(header, "url")
	categoriesIdx := findColumnIndex(header, "categories")
	for name, idx := range map[string]int{"subscriber": subscriberIdx, "url": urlIdx} {
		if idx < 0 {
			return Summary{}, fmt.Errorf("required column '%s' not found in CSV header", name)
		}
	}

	var summary Summary
	lineCount := 1 // Header was already read

	for {
		lineCount++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}
		summary.Rows++

		subscriber := safeGetValue(record, subscriberIdx)
		url := safeGetValue(record, urlIdx)
		categories := safeGetValue(record, categoriesIdx)

		if !subscriber.Valid || !url.Valid {
			log.Warn().Int("line", lineCount).Msg("Skipping row without subscriber or URL")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: subscriber and url are required", lineCount))
			continue
		}

		logger := log.With().
			Int("line", lineCount).
			Str("subscriber", subscriber.String).
			Str("url", url.String).
			Logger()

		if err := i.subs.Subscribe(ctx, subscriber.String, url.String, categories.String); err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			logger.Error().Err(err).Msg("Failed to subscribe")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		summary.Imported++
		logger.Debug().Msg("Subscription imported")
	}

	return summary, nil
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns a sql.NullString from a record at the specified index.
// If the index is out of bounds or the value is empty, it returns an invalid NullString.
func safeGetValue(record []string, index int) sql.NullString {
	if index >= 0 && index < len(record) {
		if v := strings.TrimSpace(record[index]); v != "" {
			return sql.NullString{String: v, Valid: true}
		}
	}
	return sql.NullString{Valid: false}
}
