package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ecfabric/partition"
)

func TestCheckDetectsOverlap(t *testing.T) {
	m := partition.Manifest{
		Partitions: []partition.PartitionEntry{
			{Name: "factory", Offset: 0x0000, Size: 0x0100},
			{Name: "settings", Offset: 0x0100, Size: 0x0200},
			{Name: "slot_a", Offset: 0x1000, Size: 0x1000},
			{Name: "slot_b", Offset: 0x1900, Size: 0x1000},
		},
	}
	err := m.Check(^uint64(0))
	require.EqualError(t, err, "Partitions slot_a and slot_b overlap")
}

func TestCheckDetectsOverflow(t *testing.T) {
	m := partition.Manifest{
		Partitions: []partition.PartitionEntry{
			{Name: "factory", Offset: 0x0000, Size: 0x0100},
			{Name: "settings", Offset: 0x0100, Size: 0x0200},
			{Name: "slot_a", Offset: 0x1000, Size: 0x1000},
			{Name: "slot_b", Offset: 0x2000, Size: 0x1000},
		},
	}
	err := m.Check(0x2900)
	require.EqualError(t, err, "Partition slot_b goes over underlying disk edge")
}

func TestCheckDetectsMisalignment(t *testing.T) {
	m := partition.Manifest{
		Alignment: 0x100,
		Partitions: []partition.PartitionEntry{
			{Name: "factory", Offset: 0x0000, Size: 0x0100},
			{Name: "settings", Offset: 0x0100, Size: 0x0210},
			{Name: "slot_a", Offset: 0x1000, Size: 0x1000},
			{Name: "slot_b", Offset: 0x2000, Size: 0x1000},
		},
	}
	err := m.Check(^uint64(0))
	require.EqualError(t, err, "Partition settings is not aligned to 256 bytes")
}

func TestCheckAcceptsValidManifest(t *testing.T) {
	m := partition.Manifest{
		Alignment: 0x100,
		Partitions: []partition.PartitionEntry{
			{Name: "factory", Offset: 0x0000, Size: 0x0100},
			{Name: "settings", Offset: 0x0100, Size: 0x0200},
		},
	}
	require.NoError(t, m.Check(0x0300))
}
