// Package events implements the decoupled broadcast of task lifecycle
// events described in the design's Event Channel component: named topics,
// synchronous delivery on the emitter's goroutine, and a non-blocking
// publish that drops rather than stalls a slow subscriber.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/sshferry/sshferry/internal/constants"
)

// Topic is one of the fixed set of event names subscribers can listen on.
type Topic string

const (
	TopicTaskAdded              Topic = "task_added"
	TopicTaskUpdated            Topic = "task_updated"
	TopicTaskFinished           Topic = "task_finished"
	TopicConnectionStateChanged Topic = "connection_state_changed"
	TopicRemoteDirLoaded        Topic = "remote_dir_loaded"
	TopicRemoteDirFailed        Topic = "remote_dir_failed"
	TopicLogMessage             Topic = "log_message"
)

// Event is the common interface every published value satisfies.
type Event interface {
	EventTopic() Topic
}

// BaseEvent is embeddable by concrete event types to satisfy Event.
type BaseEvent struct {
	Topic Topic
}

func (b BaseEvent) EventTopic() Topic { return b.Topic }

// TaskEvent carries a task snapshot for task_added/task_updated/task_finished.
type TaskEvent struct {
	BaseEvent
	TaskID   string
	Kind     string
	Status   string
	Progress float64
	Speed    float64
	Error    string
}

// NewTaskEvent builds a TaskEvent for the given topic.
func NewTaskEvent(topic Topic, taskID, kind, status string, progress, speed float64, errMsg string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: BaseEvent{Topic: topic},
		TaskID:    taskID,
		Kind:      kind,
		Status:    status,
		Progress:  progress,
		Speed:     speed,
		Error:     errMsg,
	}
}

// ConnectionStateEvent reports a site connection transitioning.
type ConnectionStateEvent struct {
	BaseEvent
	SiteName  string
	Connected bool
	Error     string
}

// RemoteDirEvent reports the outcome of a remote directory listing.
type RemoteDirEvent struct {
	BaseEvent
	SiteName string
	Path     string
	Error    string
}

// LogEvent carries a rendered structured log line for subscribers that
// want to mirror logs into a UI, distinct from the zerolog sink itself.
type LogEvent struct {
	BaseEvent
	Level   string
	Message string
}

// EventBus is a fan-out publish/subscribe hub. Each subscriber owns a
// buffered channel; Publish never blocks on a slow or dead subscriber —
// it drops the event and increments a counter instead.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewEventBus creates a bus whose subscriber channels have the given
// buffer size, capped at EventBusMaxBuffer; a size of zero or less
// selects EventBusDefaultBuffer.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[Topic][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel that receives every event published on topic.
func (b *EventBus) Subscribe(topic Topic) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// SubscribeAll returns a channel that receives every event regardless of topic.
func (b *EventBus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish delivers evt to every subscriber of its topic and to every
// all-topics subscriber. Delivery is synchronous and non-blocking: a
// subscriber whose buffer is full does not receive this event, and the
// drop is counted rather than surfaced as an error (at-most-once delivery
// per subscriber per event, per the design's Event Channel contract).
func (b *EventBus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[evt.EventTopic()] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. The bus must not be used afterward.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// DroppedEventCount returns the number of events dropped due to full
// subscriber buffers since the bus was created or last reset.
func (b *EventBus) DroppedEventCount() int64 {
	return b.dropped.Load()
}

// ResetDroppedEventCount zeroes the dropped-event counter.
func (b *EventBus) ResetDroppedEventCount() {
	b.dropped.Store(0)
}
