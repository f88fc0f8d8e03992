package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamCodeKey maps an exam code to the exam's ID.
func (r *CacheKeyStruct) ExamCodeKey(code string) string {
	return fmt.Sprintf("exam:code:%s", code)
}

// ExamPayloadKey returns the cache key for an exam's payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// SessionResultKey holds the submitted draft of a session until it is persisted.
func (r *CacheKeyStruct) SessionResultKey(sessionID string) string {
	return fmt.Sprintf("session:%s:result", sessionID)
}

// JoinRateKey counts join attempts per client IP within a window.
func (r *CacheKeyStruct) JoinRateKey(ip string, window int64) string {
	return fmt.Sprintf("ratelimit:join:%s:%d", ip, window)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam's live activity.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
