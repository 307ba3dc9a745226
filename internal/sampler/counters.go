package sampler

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

// ErrCounterUnavailable means a counter file or line is absent.
var ErrCounterUnavailable = errors.New("cgroup counter unavailable")

// Layout is the cgroup hierarchy flavour mounted in the container.
type Layout uint8

const (
	LayoutV2 Layout = iota // unified hierarchy
	LayoutV1               // per-controller hierarchies
)

func (l Layout) String() string {
	if l == LayoutV1 {
		return "v1"
	}
	return "v2"
}

// DetectLayout inspects root and reports the layout. detected is false when
// neither layout matched and v2 was assumed.
func DetectLayout(root string) (layout Layout, detected bool) {
	if exists(filepath.Join(root, constants.CgroupV2Marker)) {
		return LayoutV2, true
	}
	if exists(filepath.Join(root, constants.CgroupV1CPUDir)) ||
		exists(filepath.Join(root, constants.CgroupV1MemoryDir)) {
		return LayoutV1, true
	}
	return LayoutV2, false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CounterReader reads the raw cumulative counters of one layout.
type CounterReader interface {
	// CPUMicros returns cumulative CPU time in microseconds.
	CPUMicros() (int64, error)
	// MemoryBytes returns current memory usage in bytes.
	MemoryBytes() (int64, error)
}

// NewCounterReader returns the reader for layout rooted at root.
func NewCounterReader(layout Layout, root string) CounterReader {
	if layout == LayoutV1 {
		return v1Reader{root: root}
	}
	return v2Reader{root: root}
}

type v2Reader struct{ root string }

func (r v2Reader) CPUMicros() (int64, error) {
	path := filepath.Join(r.root, constants.CgroupV2CPUStat)
	data, err := readCounterFile(path)
	if err != nil {
		return 0, err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != constants.CgroupV2UsageKey {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %s in %s: %w", constants.CgroupV2UsageKey, path, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%s has no %s line: %w", path, constants.CgroupV2UsageKey, ErrCounterUnavailable)
}

func (r v2Reader) MemoryBytes() (int64, error) {
	return readInt(filepath.Join(r.root, constants.CgroupV2MemCurrent))
}

type v1Reader struct{ root string }

// CPUMicros reads cpuacct.usage (nanoseconds), trying the combined
// cpu,cpuacct mount when the split one is absent.
func (r v1Reader) CPUMicros() (int64, error) {
	ns, err := readInt(filepath.Join(r.root, constants.CgroupV1CPUUsage))
	if errors.Is(err, ErrCounterUnavailable) {
		ns, err = readInt(filepath.Join(r.root, constants.CgroupV1CPUUsageAlt))
	}
	if err != nil {
		return 0, err
	}
	return ns / constants.NanosPerMicro, nil
}

func (r v1Reader) MemoryBytes() (int64, error) {
	return readInt(filepath.Join(r.root, constants.CgroupV1MemUsage))
}

func readCounterFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%s: %w", path, ErrCounterUnavailable)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func readInt(path string) (int64, error) {
	data, err := readCounterFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, fmt.Errorf("%s is empty: %w", path, ErrCounterUnavailable)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}
