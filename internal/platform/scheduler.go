package platform

import (
	"time"
)

// TimerScheduler schedules work on runtime timers.
type TimerScheduler struct{}

// NewTimerScheduler creates a scheduler backed by time.AfterFunc.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// Schedule runs fn in its own goroutine after delay.
func (TimerScheduler) Schedule(fn func(), delay time.Duration) Task {
	return timerTask{t: time.AfterFunc(delay, fn)}
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Cancel() bool {
	return t.t.Stop()
}
