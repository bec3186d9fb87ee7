package config

import (
	"github.com/spf13/viper"

	"firestige.xyz/tsnstream/internal/core"
	"firestige.xyz/tsnstream/internal/errors"
	"firestige.xyz/tsnstream/internal/stream"
)

// EntrySet is a standalone document of stream and collection entries, the
// format used by store import and export.
type EntrySet struct {
	Streams     []StreamEntry     `mapstructure:"streams" json:"streams" yaml:"streams"`
	Collections []CollectionEntry `mapstructure:"collections" json:"collections" yaml:"collections"`
}

// LoadEntries reads an entry document. Values are decoded with the same
// hooks as the main configuration; ports are checked against the full
// switch range.
func LoadEntries(path string) (*EntrySet, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(core.ErrConfigInvalid, errors.KindValidation, "read entry file %s: %v", path, err)
	}

	var set EntrySet
	if err := v.Unmarshal(&set, viper.DecodeHook(decodeHook())); err != nil {
		return nil, errors.Wrapf(core.ErrConfigInvalid, errors.KindValidation, "unmarshal entries: %v", err)
	}
	if err := validateEntries(set.Streams, set.Collections, stream.MaxPorts); err != nil {
		return nil, errors.Wrapf(core.ErrConfigInvalid, errors.KindValidation, "entry validation failed: %v", err)
	}
	return &set, nil
}
