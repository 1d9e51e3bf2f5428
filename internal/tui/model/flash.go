package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// FlashMessage is a transient notice shown in the status bar.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// Flash holds the current transient notice.
type Flash struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

func (f *Flash) Info(msg string) { f.Set(msg, FlashInfo, 4*time.Second) }

func (f *Flash) Warn(msg string) { f.Set(msg, FlashWarn, 8*time.Second) }

func (f *Flash) Err(err error) { f.Set(err.Error(), FlashErr, 10*time.Second) }

// Set stores a message that expires after d.
func (f *Flash) Set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = FlashMessage{Text: msg, Level: level, Expires: f.clock().Add(d)}
}

// Get returns the current message, or nil once it has expired.
func (f *Flash) Get() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.clock().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}
