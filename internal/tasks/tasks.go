// Package tasks tracks asynchronous indexing tasks. Every indexing run is
// owned by one Task; HTTP handlers read progress through snapshots and stream
// live updates through the event broadcaster.
package tasks

import (
	"context"
	"sync"
	"time"
)

// Status represents the status of an async task.
type Status string

// Status constants define the lifecycle states of an async task.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Type identifies the kind of indexing run a task performs.
type Type string

const (
	TypeFull        Type = "full_index"
	TypeIncremental Type = "incremental_index"
	TypeReindex     Type = "reindex"
)

// eventChannelBuffer bounds per-listener event queues. Slow listeners drop
// events instead of blocking the producer.
const eventChannelBuffer = 100

// Event represents an event emitted by a task.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for
// async tasks. Embed this in task structs to get AddListener, RemoveListener,
// and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan Event
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Task represents one asynchronous indexing run.
type Task struct {
	EventBroadcaster

	id           string
	collectionID string
	taskType     Type

	status      Status
	progress    int
	total       int
	currentItem string
	facesFound  int
	errMsg      string
	startedAt   time.Time
	completedAt *time.Time
}

// Snapshot is a point-in-time copy of task state safe to serialize. ETA is
// derived at snapshot time and only present while the task is running with
// measurable progress.
type Snapshot struct {
	ID           string     `json:"id"`
	CollectionID string     `json:"collection_id"`
	Type         Type       `json:"type"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Total        int        `json:"total"`
	Percent      float64    `json:"percent"`
	CurrentItem  string     `json:"current_item,omitempty"`
	FacesFound   int        `json:"faces_found"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ETASeconds   *int       `json:"eta_seconds,omitempty"`
}

// ID returns the task id.
func (t *Task) ID() string {
	return t.id
}

// CollectionID returns the collection the task indexes.
func (t *Task) CollectionID() string {
	return t.collectionID
}

// Status returns the current task status.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// IsTerminal reports whether the task reached a final state.
func (t *Task) IsTerminal() bool {
	status := t.Status()
	return status == StatusCompleted || status == StatusFailed
}

// Start transitions the task from pending to running.
func (t *Task) Start() {
	t.mu.Lock()
	t.status = StatusRunning
	t.startedAt = time.Now()
	t.mu.Unlock()

	t.SendEvent(Event{Type: "started"})
}

// UpdateProgress records progress after one processed asset.
func (t *Task) UpdateProgress(progress, total int, currentItem string, facesFound int) {
	t.mu.Lock()
	t.progress = progress
	t.total = total
	t.currentItem = currentItem
	t.facesFound = facesFound
	t.mu.Unlock()

	t.SendEvent(Event{Type: "progress", Data: t.Snapshot()})
}

// Complete marks the task as successfully finished.
func (t *Task) Complete() {
	t.mu.Lock()
	now := time.Now()
	t.status = StatusCompleted
	t.completedAt = &now
	t.currentItem = ""
	t.mu.Unlock()

	t.SendEvent(Event{Type: "completed", Data: t.Snapshot()})
}

// Fail marks the task as failed with the given message.
func (t *Task) Fail(message string) {
	t.mu.Lock()
	now := time.Now()
	t.status = StatusFailed
	t.errMsg = message
	t.completedAt = &now
	t.mu.Unlock()

	t.SendEvent(Event{Type: "failed", Message: message})
}

// Cancel requests cooperative cancellation via the task context.
func (t *Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
	t.SendEvent(Event{Type: "cancelling", Message: "Cancellation requested"})
}

// Snapshot returns a point-in-time copy of the task state.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		ID:           t.id,
		CollectionID: t.collectionID,
		Type:         t.taskType,
		Status:       t.status,
		Progress:     t.progress,
		Total:        t.total,
		CurrentItem:  t.currentItem,
		FacesFound:   t.facesFound,
		Error:        t.errMsg,
		StartedAt:    t.startedAt,
		CompletedAt:  t.completedAt,
	}
	if t.total > 0 {
		s.Percent = float64(t.progress) / float64(t.total) * 100
	}
	if t.status == StatusRunning && t.progress > 0 && t.total > t.progress {
		elapsed := time.Since(t.startedAt).Seconds()
		eta := int(elapsed / float64(t.progress) * float64(t.total-t.progress))
		s.ETASeconds = &eta
	}
	return s
}

// Tracker manages async tasks.
type Tracker struct {
	tasks        map[string]*Task
	byCollection map[string]string // collection id -> latest task id
	mu           sync.RWMutex
}

// NewTracker creates a new task tracker.
func NewTracker() *Tracker {
	return &Tracker{
		tasks:        make(map[string]*Task),
		byCollection: make(map[string]string),
	}
}

// Create registers a new pending task and returns it together with the
// context its run should observe. Cancelling the task cancels the context.
func (m *Tracker) Create(id, collectionID string, taskType Type) (*Task, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())

	task := &Task{
		id:           id,
		collectionID: collectionID,
		taskType:     taskType,
		status:       StatusPending,
		startedAt:    time.Now(),
	}
	task.EventBroadcaster.cancel = cancel

	m.mu.Lock()
	m.tasks[id] = task
	m.byCollection[collectionID] = id
	m.mu.Unlock()

	return task, ctx
}

// Get retrieves a task by ID, nil if unknown.
func (m *Tracker) Get(id string) *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[id]
}

// CollectionTask returns the most recent task for a collection, nil if the
// collection was never indexed in this process.
func (m *Tracker) CollectionTask(collectionID string) *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCollection[collectionID]
	if !ok {
		return nil
	}
	return m.tasks[id]
}

// List returns snapshots of all known tasks.
func (m *Tracker) List() []Snapshot {
	m.mu.RLock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	m.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(tasks))
	for _, task := range tasks {
		snapshots = append(snapshots, task.Snapshot())
	}
	return snapshots
}

// Delete removes a task from the registry.
func (m *Tracker) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if ok && m.byCollection[task.collectionID] == id {
		delete(m.byCollection, task.collectionID)
	}
	delete(m.tasks, id)
}
