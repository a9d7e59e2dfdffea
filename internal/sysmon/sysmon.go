// Package sysmon samples CPU, memory and disk usage for the
// resource-threshold trigger. Linux only: it reads /proc directly.
package sysmon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// Usage holds one sample, all values in percent (0..100).
type Usage struct {
	CPU    float64
	Memory float64
	Disk   float64
}

type cpuCounters struct {
	idle  uint64
	total uint64
}

// Sampler reads usage percentages. CPU usage is computed between
// consecutive samples; the first call reports 0 CPU.
type Sampler struct {
	procRoot string
	diskPath string

	mu     sync.Mutex
	prev   cpuCounters
	primed bool
}

func New(diskPath string) *Sampler {
	if strings.TrimSpace(diskPath) == "" {
		diskPath = "/"
	}
	return &Sampler{procRoot: "/proc", diskPath: diskPath}
}

// Sample returns the current usage. Partial failures fail the whole sample:
// the caller treats an error as "threshold not crossed" and just logs it.
func (s *Sampler) Sample() (Usage, error) {
	var u Usage

	cpu, err := s.cpuPercent()
	if err != nil {
		return u, fmt.Errorf("cpu: %w", err)
	}
	mem, err := s.memoryPercent()
	if err != nil {
		return u, fmt.Errorf("memory: %w", err)
	}
	disk, err := diskPercent(s.diskPath)
	if err != nil {
		return u, fmt.Errorf("disk: %w", err)
	}

	u.CPU = cpu
	u.Memory = mem
	u.Disk = disk
	return u, nil
}

func (s *Sampler) cpuPercent() (float64, error) {
	cur, err := readCPUCounters(s.procRoot + "/stat")
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prev
	primed := s.primed
	s.prev = cur
	s.primed = true

	if !primed || cur.total <= prev.total {
		return 0, nil
	}
	dTotal := cur.total - prev.total
	dIdle := cur.idle - prev.idle
	if dIdle > dTotal {
		dIdle = dTotal
	}
	return 100 * float64(dTotal-dIdle) / float64(dTotal), nil
}

func readCPUCounters(path string) (cpuCounters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cpuCounters{}, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuCounters{}, fmt.Errorf("unexpected %s format", path)
	}
	var c cpuCounters
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return cpuCounters{}, fmt.Errorf("parse %s field %d: %w", path, i+1, err)
		}
		c.total += v
		// idle + iowait
		if i == 3 || i == 4 {
			c.idle += v
		}
	}
	return c, nil
}

func (s *Sampler) memoryPercent() (float64, error) {
	data, err := os.ReadFile(s.procRoot + "/meminfo")
	if err != nil {
		return 0, err
	}
	total, avail, err := parseMeminfo(string(data))
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("meminfo reports zero total")
	}
	return 100 * float64(total-avail) / float64(total), nil
}

func parseMeminfo(s string) (totalKB, availKB uint64, err error) {
	var haveTotal, haveAvail bool
	for _, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, err = strconv.ParseUint(fields[1], 10, 64)
			haveTotal = err == nil
		case "MemAvailable:":
			availKB, err = strconv.ParseUint(fields[1], 10, 64)
			haveAvail = err == nil
		}
		if haveTotal && haveAvail {
			return totalKB, availKB, nil
		}
	}
	return 0, 0, fmt.Errorf("meminfo missing MemTotal/MemAvailable")
}

func diskPercent(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs reports zero size for %s", path)
	}
	free := st.Bavail * uint64(st.Bsize)
	used := total - free
	return 100 * float64(used) / float64(total), nil
}
