package extradata

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const cpuTempPath = "/sys/class/thermal/thermal_zone0/temp"

func init() {
	Register("cputemp", func(Config) (Provider, error) {
		return &cpuTemp{path: cpuTempPath}, nil
	})
}

type cpuTemp struct {
	path string
}

func (c *cpuTemp) Name() string { return "cputemp" }

func (c *cpuTemp) Message(context.Context) (string, error) {
	v, err := readCPUTempC(c.path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CPU %.1fC", v), nil
}

// parseCPUTempC accepts milli-degrees (52345) or whole degrees (52).
func parseCPUTempC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cpu temp empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse cpu temp %q: %w", s, err)
	}
	if n > 1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

func readCPUTempC(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read cpu temp: %w", err)
	}
	return parseCPUTempC(string(b))
}
