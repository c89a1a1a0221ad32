// Package partition implements the storage manifest consistency checker: a
// static description of named partitions on a disk, and the validation that
// catches overlapping ranges, out-of-bounds partitions, and misaligned
// boundaries before the layout is ever flashed.
package partition

import (
	"fmt"
	"sort"
)

// PartitionEntry describes one named region of the disk.
type PartitionEntry struct {
	Name   string
	Offset uint64
	Size   uint64
}

func (p PartitionEntry) end() uint64 { return p.Offset + p.Size }

// Manifest is the full partition layout for one disk image.
type Manifest struct {
	// Alignment, if non-zero, is the byte boundary every partition's start
	// and end must fall on.
	Alignment  uint64
	Partitions []PartitionEntry
}

// Check validates the manifest against diskSize, in the same order the
// reference generator checks it: overlaps first (in ascending name order,
// matching a BTreeMap's iteration), then disk-bounds overflow, then
// alignment. It returns the first violation found, with the reference
// implementation's exact error text.
func (m Manifest) Check(diskSize uint64) error {
	sorted := make([]PartitionEntry, len(m.Partitions))
	copy(sorted, m.Partitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if a.Offset < b.end() && b.Offset < a.end() {
				return fmt.Errorf("Partitions %s and %s overlap", a.Name, b.Name)
			}
		}
	}

	for _, p := range sorted {
		if p.end() > diskSize {
			return fmt.Errorf("Partition %s goes over underlying disk edge", p.Name)
		}
	}

	if m.Alignment > 0 {
		for _, p := range sorted {
			if p.Offset%m.Alignment != 0 || p.end()%m.Alignment != 0 {
				return fmt.Errorf("Partition %s is not aligned to %d bytes", p.Name, m.Alignment)
			}
		}
	}

	return nil
}
