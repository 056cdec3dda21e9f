package stats

import "github.com/prometheus/client_golang/prometheus"

// Fs_i is the subset of ufs.Ufs_t a Collector needs to read cache
// occupancy; kept narrow so stats doesn't import ufs (ufs already
// imports fs, which would make the dependency circular the other way).
type Fs_i interface {
	Sizes() (ninode, nblk int)
}

// Mem_i is the subset of mem.Physmem_t a Collector reads.
type Mem_i interface {
	Nfree() int
	Ntotal() int
}

// Collector exports the page allocator, block cache, and scheduler
// runqueue as Prometheus gauges. It is wired into nyxctl's
// serve-metrics command; the reflect-based Stats/Timing counters in stats.go
// remain the teacher's own in-process accounting and are unaffected.
type Collector struct {
	mem     Mem_i
	fs      Fs_i
	runqLen func() int

	pagesFree  *prometheus.Desc
	pagesTotal *prometheus.Desc
	cacheInode *prometheus.Desc
	cacheBlock *prometheus.Desc
	runq       *prometheus.Desc
}

// NewCollector builds a Collector reading live state from the given
// physical memory allocator, filesystem handle, and runqueue-length
// accessor (proc.RunqLen). fs may be nil before the filesystem has
// mounted; its gauges then report 0.
func NewCollector(m Mem_i, fs Fs_i, runqLen func() int) *Collector {
	return &Collector{
		mem:     m,
		fs:      fs,
		runqLen: runqLen,
		pagesFree: prometheus.NewDesc("nyxkern_pages_free", "Physical pages on the free lists.",
			nil, nil),
		pagesTotal: prometheus.NewDesc("nyxkern_pages_total", "Physical pages managed by the allocator.",
			nil, nil),
		cacheInode: prometheus.NewDesc("nyxkern_cache_inodes", "Inodes resident in the inode cache.",
			nil, nil),
		cacheBlock: prometheus.NewDesc("nyxkern_cache_blocks", "Blocks resident in the block cache.",
			nil, nil),
		runq: prometheus.NewDesc("nyxkern_runqueue_length", "Processes currently on the scheduler runqueue.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pagesFree
	ch <- c.pagesTotal
	ch <- c.cacheInode
	ch <- c.cacheBlock
	ch <- c.runq
}

// Collect implements prometheus.Collector, sampling every gauge fresh
// on each scrape rather than caching between them.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.mem != nil {
		ch <- prometheus.MustNewConstMetric(c.pagesFree, prometheus.GaugeValue, float64(c.mem.Nfree()))
		ch <- prometheus.MustNewConstMetric(c.pagesTotal, prometheus.GaugeValue, float64(c.mem.Ntotal()))
	}
	if c.fs != nil {
		ninode, nblk := c.fs.Sizes()
		ch <- prometheus.MustNewConstMetric(c.cacheInode, prometheus.GaugeValue, float64(ninode))
		ch <- prometheus.MustNewConstMetric(c.cacheBlock, prometheus.GaugeValue, float64(nblk))
	}
	if c.runqLen != nil {
		ch <- prometheus.MustNewConstMetric(c.runq, prometheus.GaugeValue, float64(c.runqLen()))
	}
}
