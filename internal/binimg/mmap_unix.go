//go:build unix

package binimg

import (
	"fmt"
	"os"
	"syscall"
)

type mapping struct {
	data []byte
	f    *os.File
}

func (m *mapping) Close() error {
	var err1 error
	if m.data != nil {
		err1 = syscall.Munmap(m.data)
		m.data = nil
	}
	err2 := m.f.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// mapFile maps the whole file read-only.
func mapFile(path string) ([]byte, *mapping, error) {
	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	fi, err := of.Stat()
	if err != nil {
		of.Close()
		return nil, nil, fmt.Errorf("stat file: %w", err)
	}
	if fi.Size() == 0 {
		return []byte{}, &mapping{f: of}, nil
	}
	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		return nil, nil, fmt.Errorf("mmap file: %w", err)
	}
	return all, &mapping{data: all, f: of}, nil
}
