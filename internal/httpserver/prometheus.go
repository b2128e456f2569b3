package httpserver

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/nvsmi-sender/internal/procs"
)

type computeProcsCollector struct {
	procs *procs.Manager

	countDesc   *prometheus.Desc
	memoryDesc  *prometheus.Desc
	scanAgeDesc *prometheus.Desc
}

func newComputeProcsCollector(procManager *procs.Manager) prometheus.Collector {
	if procManager == nil {
		return nil
	}

	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("nvsmi", "compute", name),
			help,
			labels,
			nil,
		)
	}

	return &computeProcsCollector{
		procs:       procManager,
		countDesc:   desc("processes", "Number of compute processes in the latest scan.", nil),
		memoryDesc:  desc("process_memory_mib", "GPU memory used by a compute process in MiB.", []string{"pid", "name"}),
		scanAgeDesc: desc("scan_age_seconds", "Seconds elapsed since the latest process scan.", nil),
	}
}

func (c *computeProcsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.countDesc
	ch <- c.memoryDesc
	ch <- c.scanAgeDesc
}

func (c *computeProcsCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot, ok := c.procs.Latest()
	if !ok {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.countDesc, prometheus.GaugeValue, float64(len(snapshot.Processes)))

	age := time.Since(snapshot.Timestamp).Seconds()
	if age < 0 {
		age = 0
	}
	ch <- prometheus.MustNewConstMetric(c.scanAgeDesc, prometheus.GaugeValue, age)

	for _, proc := range snapshot.Processes {
		if proc.UsedMemoryMiB == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			c.memoryDesc,
			prometheus.GaugeValue,
			*proc.UsedMemoryMiB,
			strconv.Itoa(proc.PID),
			proc.Name,
		)
	}
}
