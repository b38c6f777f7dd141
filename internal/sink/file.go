package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// File writes the latest calibration as an indented JSON document.
type File struct {
	Path string
}

// Publish implements Sink. The file is replaced atomically.
func (f File) Publish(_ context.Context, c Calibration) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode calibration")
	}

	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", f.Path)
	}
	logrus.WithField("path", f.Path).Info("calibration written")
	return nil
}

// ReadFile loads a calibration written by File.
func ReadFile(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, errors.Wrapf(err, "failed to read %s", path)
	}
	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return Calibration{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	return c, nil
}
