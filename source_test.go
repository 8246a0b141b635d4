package aqmsim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSourceCSV(t *testing.T) {
	specs, err := LoadSource(SourceDesc{Path: "testdata/packets.csv"})
	require.NoError(t, err)
	require.Len(t, specs, 10)
	assert.Equal(t, PacketSpec{ID: 1, Size: 10}, specs[0])
	assert.Equal(t, PacketSpec{ID: 10, Size: 130}, specs[9])
}

func TestLoadSourceRejectsBadPackets(t *testing.T) {
	_, err := LoadSource(SourceDesc{Path: "testdata/dup.csv"})
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Problems, 2)
	assert.Contains(t, err.Error(), "negative size")
	assert.Contains(t, err.Error(), "more than once")
}

func TestLoadSourceCSVErrors(t *testing.T) {
	dir := t.TempDir()

	noHeader := filepath.Join(dir, "nohdr.csv")
	require.NoError(t, os.WriteFile(noHeader, []byte("id,len\n1,2\n"), 0o644))
	_, err := LoadSource(SourceDesc{Path: noHeader})
	assert.True(t, IsConfigError(err))

	garbled := filepath.Join(dir, "garbled.csv")
	require.NoError(t, os.WriteFile(garbled, []byte("packet_id,data_length\n1,ten\n2,20.0\n"), 0o644))
	_, err = LoadSource(SourceDesc{Path: garbled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = LoadSource(SourceDesc{Path: filepath.Join(dir, "missing.csv")})
	assert.True(t, IsConfigError(err))

	_, err = LoadSource(SourceDesc{Path: "testdata/packets.txt"})
	assert.True(t, IsConfigError(err))

	_, err = LoadSource(SourceDesc{})
	assert.True(t, IsConfigError(err))
}

func TestLoadSourcePacketList(t *testing.T) {
	specs, err := LoadSource(SourceDesc{Path: "testdata/packets.yaml"})
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, 300, specs[2].Size)

	pl := PacketList{Packets: specs}
	out := filepath.Join(t.TempDir(), "packets.json")
	require.NoError(t, pl.WriteToFile(out))
	again, err := LoadSource(SourceDesc{Path: out})
	require.NoError(t, err)
	assert.Equal(t, specs, again)
}

func TestLoadSourceSynthetic(t *testing.T) {
	specs, err := LoadSource(SourceDesc{Synthetic: &SyntheticDesc{Count: 20}})
	require.NoError(t, err)
	require.Len(t, specs, 60)

	order := []HostType{FTPHost, WEBHost, VIDEOHost}
	for idx, spec := range specs {
		ht := order[idx%3]
		bounds := hostSizeRange[ht]
		assert.Equal(t, idx+1, spec.ID)
		assert.Equal(t, ht.String(), spec.Host)
		assert.GreaterOrEqual(t, spec.Size, bounds[0])
		assert.LessOrEqual(t, spec.Size, bounds[1])
	}

	_, err = LoadSource(SourceDesc{Synthetic: &SyntheticDesc{Count: 0}})
	assert.True(t, IsConfigError(err))
}
