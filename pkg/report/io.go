package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// atomicWriteJSON writes v to path through a temp file and rename so
// readers never see a partial document.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ReadIndex reads report.json from reportDir.
func ReadIndex(reportDir string) (*Index, error) {
	var index Index
	if err := readJSON(filepath.Join(reportDir, "report.json"), &index); err != nil {
		return nil, err
	}
	return &index, nil
}

// ReadFlow reads one flow detail file referenced by an index entry.
func ReadFlow(reportDir, dataFile string) (*FlowDetail, error) {
	var fd FlowDetail
	if err := readJSON(filepath.Join(reportDir, dataFile), &fd); err != nil {
		return nil, err
	}
	return &fd, nil
}

// ReadReport reads the index and every flow detail.
func ReadReport(reportDir string) (*Index, []FlowDetail, error) {
	index, err := ReadIndex(reportDir)
	if err != nil {
		return nil, nil, err
	}
	flows := make([]FlowDetail, 0, len(index.Flows))
	for _, entry := range index.Flows {
		fd, err := ReadFlow(reportDir, entry.DataFile)
		if err != nil {
			return nil, nil, fmt.Errorf("flow %s: %w", entry.ID, err)
		}
		flows = append(flows, *fd)
	}
	return index, flows, nil
}
