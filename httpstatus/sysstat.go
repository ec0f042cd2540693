package httpstatus

import (
	"bufio"
	"errors"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// cpuTimes 是 /proc/stat 汇总行的累计时间片，idle 含 iowait。
type cpuTimes struct {
	total uint64
	idle  uint64
}

// busySince 返回 prev 到 t 之间的忙碌占比（0~100）。
func (t cpuTimes) busySince(prev cpuTimes) float64 {
	if t.total <= prev.total || t.idle < prev.idle {
		return 0
	}
	dt := t.total - prev.total
	di := t.idle - prev.idle
	if di > dt {
		return 0
	}
	return float64(dt-di) / float64(dt) * 100
}

// sysSampler 为 /status 提供宿主机 CPU 与进程内存读数。
type sysSampler struct {
	path string

	mu   sync.Mutex
	last cpuTimes
	seen bool
}

func newSysSampler() *sysSampler { return &sysSampler{path: "/proc/stat"} }

// CPUPercent 返回自上次调用以来的 CPU 使用率；首次调用或读取失败返回 0。
func (s *sysSampler) CPUPercent() float64 {
	cur, err := readCPUTimes(s.path)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last, s.seen
	s.last, s.seen = cur, true
	if !seen {
		return 0
	}
	return cur.busySince(prev)
}

// MemMB 返回当前进程堆内存占用，单位 MB。
func (s *sysSampler) MemMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Alloc) / (1 << 20)
}

func readCPUTimes(path string) (cpuTimes, error) {
	f, err := os.Open(path)
	if err != nil {
		return cpuTimes{}, err
	}
	defer f.Close()
	return parseCPUTimes(f)
}

// parseCPUTimes 解析首行 "cpu user nice system idle iowait ..."。
func parseCPUTimes(r io.Reader) (cpuTimes, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return cpuTimes{}, err
	}
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, errors.New("proc stat: missing cpu line")
	}
	var t cpuTimes
	for i, raw := range fields[1:] {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return cpuTimes{}, err
		}
		t.total += v
		if i == 3 || i == 4 {
			t.idle += v
		}
	}
	return t, nil
}
