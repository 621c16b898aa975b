// Package robt implements an immutable, disk-resident, read-only B-tree
// index built from a pre-sorted iterator. An index is made up of a
// root block, intermediate m-blocks, and leaf z-blocks; values and
// their version deltas can optionally be offloaded to a companion
// value-log file to keep the index blocks themselves compact and cache
// friendly.
package robt

import (
	"path/filepath"

	"github.com/google/uuid"
)

// Default block sizes, matching the teacher's fixed-size-page convention.
const (
	ZBlockSize      = 4 * 1024
	MBlockSize      = 4 * 1024
	VBlockSize      = 4 * 1024
	FlushQueueSize  = 64
	MarkerBlockSize = 4 * 1024
	MaxDepth        = 11
)

// IndexFileName composes the on-disk file name for an index named name.
func IndexFileName(name string) string { return name + ".robt.indx" }

// VlogFileName composes the on-disk file name for the value-log paired
// with an index named name.
func VlogFileName(name string) string { return name + ".robt.vlog" }

// ToIndexLocation joins dir and the index file name for name.
func ToIndexLocation(dir, name string) string {
	return filepath.Join(dir, IndexFileName(name))
}

// ToVlogLocation joins dir and the value-log file name for name.
func ToVlogLocation(dir, name string) string {
	return filepath.Join(dir, VlogFileName(name))
}

// Config configures a Builder. Once an index is built, its effective
// configuration is persisted as part of Stats and does not need to be
// supplied again to open it.
type Config struct {
	Dir  string
	Name string

	// ZBlockSize is the leaf-block size.
	ZBlockSize int
	// MBlockSize is the intermediate- and root-block size.
	MBlockSize int
	// VBlockSize is the value-log block size.
	VBlockSize int
	// DeltaOk, when true, persists older versions of a value as deltas
	// in the value-log. Deltas are never stored inline in a z-block.
	DeltaOk bool
	// ValueInVlog, when true, offloads the latest value to the
	// value-log too; otherwise it is stored inline in the z-block.
	ValueInVlog bool
	// FlushQueueSize sizes the Flusher's internal write buffer, in
	// units of blocks.
	FlushQueueSize int

	vlogLocation string
}

// NewConfig returns a Config with the teacher's defaults: deltas kept,
// values inline.
func NewConfig(dir, name string) Config {
	return Config{
		Dir:            dir,
		Name:           name,
		ZBlockSize:     ZBlockSize,
		MBlockSize:     MBlockSize,
		VBlockSize:     VBlockSize,
		DeltaOk:        true,
		ValueInVlog:    false,
		FlushQueueSize: FlushQueueSize,
	}
}

// SetBlockSize overrides the z-, v- and m-block sizes.
func (c *Config) SetBlockSize(z, v, m int) *Config {
	c.ZBlockSize, c.VBlockSize, c.MBlockSize = z, v, m
	return c
}

// SetDelta toggles whether older versions are preserved as deltas.
func (c *Config) SetDelta(ok bool) *Config {
	c.DeltaOk = ok
	return c
}

// SetValueLog toggles whether the latest value is offloaded to the
// value-log instead of stored inline in the z-block.
func (c *Config) SetValueLog(ok bool) *Config {
	c.ValueInVlog = ok
	return c
}

// SetVlogLocation supplies an explicit value-log path, e.g. one
// inherited from an older snapshot for an incremental build.
func (c *Config) SetVlogLocation(loc string) *Config {
	c.vlogLocation = loc
	return c
}

// SetFlushQueueSize sizes the Flusher's write buffer.
func (c *Config) SetFlushQueueSize(n int) *Config {
	c.FlushQueueSize = n
	return c
}

// ToIndexLocation is the path this config's index file is written to.
func (c Config) ToIndexLocation() string {
	return ToIndexLocation(c.Dir, c.Name)
}

// ToVlogLocation is the path this config's value-log is written to, or
// "" if neither DeltaOk nor ValueInVlog require one.
func (c Config) ToVlogLocation() string {
	if !c.ValueInVlog && !c.DeltaOk {
		return ""
	}
	if c.vlogLocation != "" {
		return c.vlogLocation
	}
	return ToVlogLocation(c.Dir, c.Name)
}

// Stats summarizes a built index: its effective configuration plus the
// numbers gathered while building it. Stats is persisted in the index's
// meta trailer and is what a later Open call uses to reconstruct Config.
type Stats struct {
	Name         string
	ZBlockSize   int
	MBlockSize   int
	VBlockSize   int
	DeltaOk      bool
	ValueInVlog  bool
	VlogLocation string

	NCount    uint64
	NDeleted  uint64
	Seqno     uint64
	NAbytes   uint64
	BuildTime int64
	Epoch     int64

	// BuildID tags this specific build with a fresh UUID, distinct from
	// Epoch (the build's start time in Unix seconds): two builds of the
	// same name can share an Epoch but never a BuildID, which is useful for
	// correlating an index file back to the build run that produced it.
	BuildID string
}

// NewStats derives a Stats shell from config, with the build-time fields
// left at their zero value.
func NewStats(config Config) Stats {
	return Stats{
		Name:         config.Name,
		ZBlockSize:   config.ZBlockSize,
		MBlockSize:   config.MBlockSize,
		VBlockSize:   config.VBlockSize,
		DeltaOk:      config.DeltaOk,
		ValueInVlog:  config.ValueInVlog,
		VlogLocation: config.ToVlogLocation(),
		BuildID:      uuid.NewString(),
	}
}

// ToConfig reconstructs the Config that produced s, rooted at dir.
func (s Stats) ToConfig(dir string) Config {
	return Config{
		Dir:            dir,
		Name:           s.Name,
		ZBlockSize:     s.ZBlockSize,
		MBlockSize:     s.MBlockSize,
		VBlockSize:     s.VBlockSize,
		DeltaOk:        s.DeltaOk,
		ValueInVlog:    s.ValueInVlog,
		FlushQueueSize: FlushQueueSize,
		vlogLocation:   s.VlogLocation,
	}
}
