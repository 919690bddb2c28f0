package common

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// fallbackFreeMemoryMB is assumed when /proc/meminfo is unavailable
// (non-linux dev machines, restricted containers).
const fallbackFreeMemoryMB = 2048

// FreeMemoryMB returns the available system memory in megabytes.
func FreeMemoryMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fallbackFreeMemoryMB
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			break
		}
		return int(kb / 1024)
	}

	return fallbackFreeMemoryMB
}

// ComputeConcurrency derives a worker concurrency limit from available
// memory: min(max, max(min, freeMemory*0.8 / perJobMemoryMB)). Recomputed
// once at worker start, not adjusted mid-run.
func ComputeConcurrency(minConcurrency, maxConcurrency, perJobMemoryMB int) int {
	if perJobMemoryMB <= 0 {
		return minConcurrency
	}

	budget := int(float64(FreeMemoryMB()) * 0.8 / float64(perJobMemoryMB))
	if budget < minConcurrency {
		budget = minConcurrency
	}
	if budget > maxConcurrency {
		budget = maxConcurrency
	}
	return budget
}
