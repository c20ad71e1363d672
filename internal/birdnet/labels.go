package birdnet

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// loadLabels reads the species label list for path, which may be a plain
// text file (one "Scientific name_Common name" label per line) or a zip
// archive containing one. The model and label assets are operator-
// supplied here, not compiled in.
func loadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("model.label_path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading label file %s: %w", path, err)
	}

	if len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04")) {
		return labelsFromZip(data)
	}
	return labelsFromText(data), nil
}

func labelsFromText(data []byte) []string {
	var labels []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			labels = append(labels, line)
		}
	}
	return labels
}

func labelsFromZip(data []byte) ([]string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading label zip: %w", err)
	}
	if len(reader.File) == 0 {
		return nil, fmt.Errorf("label zip has no entries")
	}
	f, err := reader.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s in label zip: %w", reader.File[0].Name, err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			labels = append(labels, line)
		}
	}
	return labels, scanner.Err()
}

// CommonName and ScientificName split a BirdNET label of the form
// "Scientific name_Common Name" into its two parts.
func CommonName(label string) string {
	_, common, ok := strings.Cut(label, "_")
	if !ok {
		return label
	}
	return common
}

func ScientificName(label string) string {
	scientific, _, ok := strings.Cut(label, "_")
	if !ok {
		return label
	}
	return scientific
}
