package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/paging"
	"github.com/policyhub/console/internal/transport"
)

const dateLayout = "2006-01-02"

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// windowFlags registers --page and --page-size on cmd.
func windowFlags(cmd *cobra.Command, w *paging.Window) {
	cmd.Flags().IntVar(&w.Page, "page", 0, "Page number, 1-based")
	cmd.Flags().IntVar(&w.PageSize, "page-size", 0, "Items per page")
}

// optionalBool returns the flag value only when it was given.
func optionalBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetBool(name)
	return &v
}

func optionalString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func optionalInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func optionalFloat(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

func parseStatus(s string) (job.Status, error) {
	if s == "" {
		return "", nil
	}
	return job.ParseStatus(s)
}

// jsonArg reads a JSON document given inline or as @file.
func jsonArg(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	data := []byte(s)
	if name, ok := strings.CutPrefix(s, "@"); ok {
		var err error
		if data, err = os.ReadFile(name); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
	if !json.Valid(data) {
		return nil, errors.New("config is not valid JSON")
	}
	return data, nil
}

// configArg decodes a task configuration for taskType.
func configArg(taskType, s string) (job.Config, error) {
	raw, err := jsonArg(s)
	if err != nil {
		return job.Config{}, err
	}
	return job.DecodeConfig(taskType, raw)
}

type savedFile struct {
	File        string `json:"file"`
	Bytes       int64  `json:"bytes"`
	ContentType string `json:"content_type,omitempty"`
}

// saveDownload writes d to output, or to the backend's filename in the
// working directory when output is empty. "-" writes to stdout.
func saveDownload(d *transport.Download, output string, stdout io.Writer, fallback string) (*savedFile, error) {
	defer d.Body.Close()

	if output == "-" {
		n, err := io.Copy(stdout, d.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to write download: %w", err)
		}
		return &savedFile{File: "-", Bytes: n, ContentType: d.ContentType}, nil
	}

	if output == "" {
		output = filepath.Base(d.Filename)
		if d.Filename == "" || output == "." || output == string(filepath.Separator) {
			output = fallback
		}
	}

	f, err := os.Create(output)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", output, err)
	}
	n, err := io.Copy(f, d.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", output, err)
	}
	return &savedFile{File: output, Bytes: n, ContentType: d.ContentType}, nil
}
