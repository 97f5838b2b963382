package solver

import "sync"

// task runs fn for every index in [start, end), split into contiguous chunks,
// one goroutine per worker. With a single worker it runs inline.
func task(workersCount, start, end int, fn func(i int)) {
	dataSize := end - start
	if dataSize <= 0 {
		return
	}
	workersCount = min(max(workersCount, 1), dataSize)
	if workersCount == 1 {
		for i := start; i < end; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := (dataSize + workersCount - 1) / workersCount

	for workerID := 0; workerID < workersCount; workerID++ {
		wg.Add(1)
		go func(first, last int) {
			defer wg.Done()
			for i := first; i < last; i++ {
				fn(i)
			}
		}(start+workerID*chunkSize, start+min((workerID+1)*chunkSize, dataSize))
	}
	wg.Wait()
}
