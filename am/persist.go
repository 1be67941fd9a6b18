package am

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/teranos/nlu/errors"
)

// WriteDefault writes the default configuration as TOML.
// An existing file is never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Wrapf(errors.ErrConflict, "config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create config directory for %s", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, DefaultFilePermissions)
	if err != nil {
		return errors.Wrapf(err, "failed to create config file %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(Default()); err != nil {
		return errors.Wrapf(err, "failed to encode config to %s", path)
	}
	return nil
}
