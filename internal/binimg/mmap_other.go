//go:build !unix

package binimg

import (
	"fmt"
	"os"
)

type mapping struct{}

func (m *mapping) Close() error { return nil }

func mapFile(path string) ([]byte, *mapping, error) {
	all, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	return all, &mapping{}, nil
}
