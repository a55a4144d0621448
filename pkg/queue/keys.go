package queue

// Redis key layout, all under the mateai:q:<queue> prefix:
//
//	:pending             list of due jobs (LPUSH / BRPOPLPUSH)
//	:priority            list of due high-priority jobs, consumed first
//	:delayed             zset of deferred jobs scored by eligible-at (unix ms)
//	:processing:<worker>  per-worker in-flight list
//	:completed           list of finished jobs, trimmed to a bounded length
//	:dead                zset of dead-lettered jobs scored by failure time
//	:workers             set of worker ids that have registered
//	:alive:<worker>      worker heartbeat key with TTL
const keyPrefix = "mateai:q:"

func pendingKey(queue string) string  { return keyPrefix + queue + ":pending" }
func priorityKey(queue string) string { return keyPrefix + queue + ":priority" }
func delayedKey(queue string) string  { return keyPrefix + queue + ":delayed" }
func completedKey(queue string) string { return keyPrefix + queue + ":completed" }
func deadKey(queue string) string     { return keyPrefix + queue + ":dead" }
func workersKey(queue string) string  { return keyPrefix + queue + ":workers" }

func processingKey(queue, workerID string) string {
	return keyPrefix + queue + ":processing:" + workerID
}

func aliveKey(queue, workerID string) string {
	return keyPrefix + queue + ":alive:" + workerID
}
