package window

import "time"

// Rate is one entity's throughput for a single tick, in Mbps.
type Rate struct {
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`
}

// Series is a read-only copy of one key's samples.
type Series struct {
	Timestamps []time.Time `json:"timestamps"`
	Download   []float64   `json:"download"`
	Upload     []float64   `json:"upload"`
}

// Len returns the number of samples in the series.
func (s Series) Len() int {
	return len(s.Timestamps)
}

// Empty reports whether the series holds no samples.
func (s Series) Empty() bool {
	return len(s.Timestamps) == 0
}

func emptySeries() Series {
	return Series{
		Timestamps: []time.Time{},
		Download:   []float64{},
		Upload:     []float64{},
	}
}

// timeSeries is the mutable storage for one key.
// timestamps, download and upload always have the same length.
type timeSeries struct {
	timestamps []time.Time
	download   []float64
	upload     []float64
}

func (ts *timeSeries) append(t time.Time, a, b float64) {
	ts.timestamps = append(ts.timestamps, t)
	ts.download = append(ts.download, a)
	ts.upload = append(ts.upload, b)
}

func (ts *timeSeries) len() int {
	return len(ts.timestamps)
}

// dropBefore removes every sample at or before cutoff and returns how many
// were removed.
func (ts *timeSeries) dropBefore(cutoff time.Time) int {
	keep := make([]int, 0, len(ts.timestamps))
	for i, t := range ts.timestamps {
		if t.After(cutoff) {
			keep = append(keep, i)
		}
	}

	removed := len(ts.timestamps) - len(keep)
	if removed == 0 {
		return 0
	}

	ts.filter(keep)
	return removed
}

// filter rebuilds all three sequences from the given ascending index set.
func (ts *timeSeries) filter(keep []int) {
	timestamps := make([]time.Time, len(keep))
	download := make([]float64, len(keep))
	upload := make([]float64, len(keep))

	for j, i := range keep {
		timestamps[j] = ts.timestamps[i]
		download[j] = ts.download[i]
		upload[j] = ts.upload[i]
	}

	ts.timestamps = timestamps
	ts.download = download
	ts.upload = upload
}

func (ts *timeSeries) snapshot() Series {
	out := Series{
		Timestamps: make([]time.Time, len(ts.timestamps)),
		Download:   make([]float64, len(ts.download)),
		Upload:     make([]float64, len(ts.upload)),
	}
	copy(out.Timestamps, ts.timestamps)
	copy(out.Download, ts.download)
	copy(out.Upload, ts.upload)
	return out
}
