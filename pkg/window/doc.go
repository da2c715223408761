/*
Package window implements the rolling time-window store behind the dashboard
throughput charts.

# Model

Each tracked key owns one series made of three parallel sequences:

	timestamps  [t0,  t1,  t2,  ...]
	download    [a0,  a1,  a2,  ...]
	upload      [b0,  b1,  b2,  ...]

Index i of every sequence describes the same sample. The sequences are only
ever changed together: Record appends one triple, and eviction computes the
set of surviving indices once and rebuilds all three sequences from it. There
is no code path that touches one sequence without the others.

# Retention

Evict removes every sample at or before now-horizon, so a window always
spans less than one horizon: samples one minute apart over a 30-minute
horizon leave exactly 30. Eviction never reorders the survivors and running
it twice with the same now removes nothing the second time.

EvictAll sweeps every key the store holds, not only the keys written during
the current tick. A device that stops reporting therefore still ages out.
When idle purging is enabled (the default), a key whose series is empty after
the sweep is dropped from the store entirely.

# Aggregate

RecordTick writes one sample per entity and one sample under AggregateKey
holding the sum across the entities present in that tick:

	store.RecordTick(now, map[string]window.Rate{
	    "router":  {Download: 5, Upload: 10},
	    "desktop": {Download: 3, Upload: 7},
	})
	// AggregateKey now ends with (8, 17)

Entities absent from a tick contribute nothing to that tick's aggregate.
Their own series keep their older samples until those age out. An empty tick
records nothing, not even a zero aggregate sample.

# Concurrency

Store is safe for one writer and many readers. Read returns copies, so
callers may hold on to the result while the next tick runs.
*/
package window
