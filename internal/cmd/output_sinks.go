package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/exchangelink/exchangelink/internal/output"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// addOutputFlags registers --output-format, --out and --out-dir.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// openCommandSink resolves the output flags of cmd into a writer. With
// --out-dir the file is named <stem>.<ext>.
func openCommandSink(cmd *cobra.Command, stem string, format output.Format) (*outputSink, error) {
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return nil, err
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return nil, err
	}
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	if outPath != "" && outDir != "" {
		return nil, fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
		outPath = filepath.Join(outDir, fmt.Sprintf("%s.%s", stem, outputExtension(format)))
	}
	if outPath == "" || outPath == "-" {
		return &outputSink{writer: cmd.OutOrStdout(), close: func() error { return nil }, path: "-"}, nil
	}
	return openSink(outPath)
}

func openSink(path string) (*outputSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: path}, nil
}
