// Package hardening reads process resource figures reported with every call.
package hardening

import (
	"bufio"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Memory is the stand-in for the browser's heap figures: bytes used by this
// process and bytes still available to it.
type Memory struct {
	UsedBytes      int64
	AvailableBytes int64
}

// MemoryStats never fails; figures that cannot be read are reported as 0
// (available) or taken from the Go runtime (used).
func MemoryStats() Memory {
	used, err := CurrentRSSBytes()
	if err != nil || used <= 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		used = int64(ms.Sys)
	}

	available := int64(0)
	if current, limit := readMemoryCgroup(); limit > 0 && limit >= current {
		available = limit - current
	} else if v, err := readProcMeminfo("MemAvailable:"); err == nil {
		available = v
	}
	return Memory{UsedBytes: used, AvailableBytes: available}
}

// CurrentRSSBytes returns VmRSS bytes from /proc/self/status (Linux only).
func CurrentRSSBytes() (int64, error) {
	return readKBField("/proc/self/status", "VmRSS:")
}

func readProcMeminfo(field string) (int64, error) {
	return readKBField("/proc/meminfo", field)
}

func readKBField(path, field string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, field) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, errors.New(field + " parse failure")
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New(field + " not found")
}

func readMemoryCgroup() (current int64, limit int64) {
	curBytes, err := os.ReadFile("/sys/fs/cgroup/memory.current")
	if err != nil {
		return 0, 0
	}
	current, _ = strconv.ParseInt(strings.TrimSpace(string(curBytes)), 10, 64)

	maxBytes, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return current, 0
	}
	maxStr := strings.TrimSpace(string(maxBytes))
	if maxStr == "max" {
		return current, 0
	}
	limit, _ = strconv.ParseInt(maxStr, 10, 64)
	return current, limit
}
