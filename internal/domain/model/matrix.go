package model

import "sort"

// Matrix is a Cartesian product of named axes expanded into job variants.
type Matrix struct {
	// Axes maps an axis name (e.g. "python", "os") to its values.
	Axes map[string][]string

	// MaxParallel bounds how many variants execute concurrently within a
	// single run. Zero or negative means serial execution.
	MaxParallel int
}

// Expand returns every variant of the matrix in deterministic order: axis
// names sorted lexicographically, values in declared order, last axis varying
// fastest. An empty matrix expands to a single empty variant so a workflow
// without a matrix still produces exactly one job.
func (m Matrix) Expand() []map[string]string {
	names := make([]string, 0, len(m.Axes))
	for name, values := range m.Axes {
		if len(values) == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	variants := []map[string]string{{}}
	for _, name := range names {
		next := make([]map[string]string, 0, len(variants)*len(m.Axes[name]))
		for _, base := range variants {
			for _, value := range m.Axes[name] {
				variant := make(map[string]string, len(base)+1)
				for k, v := range base {
					variant[k] = v
				}
				variant[name] = value
				next = append(next, variant)
			}
		}
		variants = next
	}

	return variants
}

// Parallelism returns the effective concurrency bound for the matrix.
func (m Matrix) Parallelism() int {
	if m.MaxParallel < 1 {
		return 1
	}
	return m.MaxParallel
}
