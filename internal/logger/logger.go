// Package logger is the process logger of the goRecover binaries: a service
// prefix, a LOG_LEVEL switch and asynchronous writes over the standard log
// package so request paths never block on output.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

var (
	prefix   string
	logLevel = levelInfo
	ch       chan string
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Uint64
	closed   bool
	mu       sync.RWMutex
)

type level int

const (
	levelDebug level = iota
	levelInfo
)

func initLevel() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		logLevel = levelDebug
	default:
		logLevel = levelInfo
	}
}

func initWorker() {
	initLevel()
	ch = make(chan string, asyncBufferSize)
	done = make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	mu.RLock()
	defer mu.RUnlock()
	if closed {
		return
	}
	select {
	case ch <- msg:
	default:
		dropped.Add(1)
	}
}

// SetPrefix sets the service tag for all later lines, e.g. "identityd".
func SetPrefix(p string) {
	prefix = p
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf is a no-op unless LOG_LEVEL is debug or trace.
func Debugf(format string, v ...any) {
	once.Do(initWorker)
	if logLevel != levelDebug {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration logs fn and its elapsed time. At info level only calls of
// 100ms or more are logged.
func LogDuration(fn string, start time.Time) {
	once.Do(initWorker)
	elapsed := time.Since(start)
	if logLevel == levelDebug || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration is for defer: defer logger.DeferLogDuration("VerifyCode", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// Dropped returns the number of lines lost to a full buffer.
func Dropped() uint64 {
	return dropped.Load()
}

// Flush drains pending lines and stops the writer. Later calls log nothing.
func Flush() {
	once.Do(initWorker)
	mu.Lock()
	if closed {
		mu.Unlock()
		return
	}
	closed = true
	close(ch)
	mu.Unlock()
	<-done
}
