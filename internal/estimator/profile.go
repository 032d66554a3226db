package estimator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// LoadCalibration reads a TOML calibration profile. Ratios missing from the
// file keep their DefaultCalibration values, so a profile may override only
// the output ratio for example.
//
//	name = "llama3.1-8b"
//	[input]
//	tokens = 240
//	characters = 1057
func LoadCalibration(path string) (Calibration, error) {
	cal := DefaultCalibration()
	cal.Name = ""
	meta, err := toml.DecodeFile(path, &cal)
	if err != nil {
		return Calibration{}, fmt.Errorf("decode calibration %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Calibration{}, fmt.Errorf("calibration %q: unknown keys %v", path, undecoded)
	}
	if err := cal.Validate(); err != nil {
		return Calibration{}, fmt.Errorf("calibration %q: %w", path, err)
	}
	if cal.Name == "" {
		cal.Name = filepath.Base(path)
	}
	return cal, nil
}

// SaveCalibration writes cal to path as TOML, creating parent directories.
func SaveCalibration(path string, cal Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create calibration directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create calibration file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cal); err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	return nil
}
