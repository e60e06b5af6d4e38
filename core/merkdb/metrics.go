package merkdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/merk"
)

var (
	promCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merk_db_commits_total",
		Help: "total number of committed batches",
	})

	promBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "merk_db_batch_operations",
		Help:    "number of operations in the committed batches",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})

	promChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merk_db_chunks_served_total",
		Help: "total number of chunks produced for exports",
	})

	promRestoreChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "merk_db_restore_chunks_total",
		Help: "total number of chunks processed by restorers",
	}, []string{"result"})

	promProofs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "merk_db_proofs_total",
		Help: "total number of proofs built and verified",
	}, []string{"op"})
)

func init() {
	merk.PromCollectors = append(merk.PromCollectors, promCommits, promBatchSize,
		promChunks, promRestoreChunks, promProofs)
}
