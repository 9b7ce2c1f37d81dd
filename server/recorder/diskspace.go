package recorder

import "github.com/shirou/gopsutil/v3/disk"

// Returns the number of bytes available to us on the volume containing path
func freeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
