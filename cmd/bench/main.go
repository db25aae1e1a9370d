// Command bench compares pagedb's B+-tree against a cockroachdb/pebble
// instance across insert, point-lookup, and range-scan workloads,
// recording latency to CSV and a PNG chart. Grounded in
// NikolasRummel-db-index-performance-evaluation/src/main.go's runSuite
// sweep, adapted from an in-process multi-structure sweep to a two-way
// pagedb-vs-pebble comparison since the query-executor layer that owned
// the original's BTree/LSM implementations is out of scope here.
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/pebble"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"pagedb/pkg/buffer"
	"pagedb/pkg/index/bptree"
	"pagedb/pkg/storage/disk"
	"pagedb/pkg/storage/page"
)

type result struct {
	structure string
	operation string
	latencyNs int64
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(1)
	}
}

func run() error {
	const n = 20000

	tmpDir, err := os.MkdirTemp("", "pagedb-bench-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	results, err := benchmarkPagedb(tmpDir, n)
	if err != nil {
		return err
	}
	pebbleResults, err := benchmarkPebble(tmpDir, n)
	if err != nil {
		return err
	}
	results = append(results, pebbleResults...)

	f, err := os.Create("bench_results.csv")
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"Structure", "Operation", "LatencyNs"})
	for _, r := range results {
		w.Write([]string{r.structure, r.operation, fmt.Sprintf("%d", r.latencyNs)})
	}
	w.Flush()

	if err := plotResults(results); err != nil {
		return err
	}

	fmt.Println("wrote bench_results.csv and bench_results.png")
	return nil
}

func benchmarkPagedb(dir string, n int) ([]result, error) {
	dm, err := disk.NewFileManager(dir + "/pagedb.db")
	if err != nil {
		return nil, err
	}
	defer dm.Close()
	sched := disk.NewScheduler(dm)
	defer sched.Stop()

	pool := buffer.NewManager(dm, sched, 512, 2)
	tree, err := bptree.NewTree(pool, page.DefaultComparator, 128, 128)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := tree.Insert(int64(i), page.RecordID{PageID: page.ID(i), Slot: 0}); err != nil {
			return nil, err
		}
	}
	insertLatency := time.Since(start).Nanoseconds() / int64(n)

	start = time.Now()
	for i := 0; i < n; i++ {
		tree.GetValue(int64(i))
	}
	lookupLatency := time.Since(start).Nanoseconds() / int64(n)

	start = time.Now()
	scanned := 0
	for it := tree.Begin(); !it.End(); it.Next() {
		scanned++
	}
	scanLatency := int64(0)
	if scanned > 0 {
		scanLatency = time.Since(start).Nanoseconds() / int64(scanned)
	}

	return []result{
		{"pagedb.bptree", "Insert", insertLatency},
		{"pagedb.bptree", "PointLookup", lookupLatency},
		{"pagedb.bptree", "RangeScan", scanLatency},
	}, nil
}

func benchmarkPebble(dir string, n int) ([]result, error) {
	db, err := pebble.Open(dir+"/pebble", &pebble.Options{})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	keyBuf := make([]byte, 8)
	encodeKey := func(i int) []byte {
		for b := 0; b < 8; b++ {
			keyBuf[b] = byte(i >> (8 * b))
		}
		out := make([]byte, 8)
		copy(out, keyBuf)
		return out
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if err := db.Set(encodeKey(i), []byte("v"), pebble.NoSync); err != nil {
			return nil, err
		}
	}
	insertLatency := time.Since(start).Nanoseconds() / int64(n)

	start = time.Now()
	for i := 0; i < n; i++ {
		v, closer, err := db.Get(encodeKey(i))
		if err == nil {
			closer.Close()
			_ = v
		}
	}
	lookupLatency := time.Since(start).Nanoseconds() / int64(n)

	start = time.Now()
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	scanned := 0
	for iter.First(); iter.Valid(); iter.Next() {
		scanned++
	}
	iter.Close()
	scanLatency := int64(0)
	if scanned > 0 {
		scanLatency = time.Since(start).Nanoseconds() / int64(scanned)
	}

	return []result{
		{"pebble", "Insert", insertLatency},
		{"pebble", "PointLookup", lookupLatency},
		{"pebble", "RangeScan", scanLatency},
	}, nil
}

func plotResults(results []result) error {
	ops := []string{"Insert", "PointLookup", "RangeScan"}
	structures := []string{"pagedb.bptree", "pebble"}

	latency := map[string]map[string]float64{}
	for _, r := range results {
		if latency[r.structure] == nil {
			latency[r.structure] = map[string]float64{}
		}
		latency[r.structure][r.operation] = float64(r.latencyNs)
	}

	p := plot.New()
	p.Title.Text = "pagedb vs pebble: per-operation latency (ns)"
	p.Y.Label.Text = "nanoseconds/op"

	offset := 0.0
	for _, structure := range structures {
		values := make(plotter.Values, len(ops))
		for i, op := range ops {
			values[i] = latency[structure][op]
		}
		bars, err := plotter.NewBarChart(values, vg.Points(20))
		if err != nil {
			return err
		}
		bars.Offset = vg.Points(offset)
		p.Add(bars)
		p.Legend.Add(structure, bars)
		offset += 22
	}
	p.NominalX(ops...)

	return p.Save(8*vg.Inch, 4*vg.Inch, "bench_results.png")
}
