package publish

import (
	"math"
	"math/rand/v2"
	"time"
)

// 限流退避上限（秒）
const maxBackoffSeconds = 64.0

// Backoff 计算第 retriesDone 次限流后的等待时间：min(64, 2^(retriesDone+1) + jitter)，jitter ∈ [0,1)
func Backoff(retriesDone int, jitter float64) time.Duration {
	if retriesDone < 0 {
		retriesDone = 0
	}
	secs := math.Min(maxBackoffSeconds, math.Pow(2, float64(retriesDone+1))+jitter)
	return time.Duration(secs * float64(time.Second))
}

func defaultJitter() float64 {
	return rand.Float64()
}
