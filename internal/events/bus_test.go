package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	event := TaskStartingEvent{
		Task:      TaskInfo{Name: "build"},
		Run:       RunContext{RunID: "run-1"},
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	select {
	case received := <-ch:
		if received.TaskID() != "build" {
			t.Errorf("expected task ID 'build', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStarting {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarting, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	event := TaskFinishedEvent{
		Task:      TaskInfo{Name: "task-2"},
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicTask, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			event := TaskStartingEvent{
				Task:      TaskInfo{Name: "task-" + string(rune('a'+i))},
				Timestamp: time.Now(),
			}
			bus.Publish(TopicTask, event)
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicTask, 10)

	// Close the bus
	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	event := TaskStartingEvent{
		Task:      TaskInfo{Name: "task-1"},
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, event)

	// Channel is closed, so we shouldn't receive anything
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	runCh := bus.Subscribe(TopicRun, 10)

	taskEvent := TaskStartingEvent{
		Task:      TaskInfo{Name: "task-1"},
		Timestamp: time.Now(),
	}

	runEvent := RunProgressEvent{
		RunID:     "run-1",
		Total:     10,
		Completed: 5,
		Running:   2,
		Failed:    0,
		Pending:   3,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, taskEvent)
	bus.Publish(TopicRun, runEvent)

	// Task channel should receive task event
	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStarting {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	// Run channel should receive run event
	select {
	case received := <-runCh:
		if received.EventType() != EventTypeRunProgress {
			t.Errorf("run channel: expected run event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("run channel: timeout waiting for event")
	}

	// Task channel should NOT have run event
	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Run channel should NOT have task event
	select {
	case <-runCh:
		t.Error("run channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	// Publish task event
	taskEvent := TaskStartingEvent{
		Task:      TaskInfo{Name: "task-1"},
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, taskEvent)

	// Publish run event
	runEvent := RunProgressEvent{
		RunID:     "run-1",
		Total:     10,
		Completed: 5,
		Running:   2,
		Failed:    0,
		Pending:   3,
		Timestamp: time.Now(),
	}
	bus.Publish(TopicRun, runEvent)

	// SubscribeAll channel should receive both events
	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	// Verify we received both types
	if !receivedTypes[EventTypeTaskStarting] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeRunProgress] {
		t.Error("SubscribeAll did not receive run event")
	}

	// Should not have any more events
	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}

// TestDroppedCountsPerTopic verifies that full subscribers are counted against the published topic.
func TestDroppedCountsPerTopic(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskSub := bus.Subscribe(TopicTask, 1)
	allSub := bus.SubscribeAll(2)

	for i := 0; i < 3; i++ {
		bus.Publish(TopicTask, TaskStartingEvent{Task: TaskInfo{Name: "build"}})
	}
	bus.Publish(TopicRun, RunStartedEvent{RunID: "r1"})

	// task: taskSub keeps 1 of 3, allSub keeps 2 of 3. run: allSub is already full.
	dropped := bus.Dropped()
	if dropped[TopicTask] != 3 {
		t.Errorf("expected 3 task drops, got %d", dropped[TopicTask])
	}
	if dropped[TopicRun] != 1 {
		t.Errorf("expected 1 run drop, got %d", dropped[TopicRun])
	}
	if _, ok := dropped[TopicWatch]; ok {
		t.Errorf("topics without drops should be omitted, got %v", dropped)
	}

	if len(taskSub) != 1 || len(allSub) != 2 {
		t.Errorf("unexpected buffered counts: task=%d all=%d", len(taskSub), len(allSub))
	}
}

// TestDroppedEmptyWhenSubscribersKeepUp verifies no drops are reported for delivered events.
func TestDroppedEmptyWhenSubscribersKeepUp(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	bus.Subscribe("custom", 4)
	bus.Publish("custom", ErrorEvent{Source: "test"})
	bus.Publish(TopicTask, TaskStartingEvent{}) // no subscribers is not a drop

	if dropped := bus.Dropped(); len(dropped) != 0 {
		t.Errorf("expected no drops, got %v", dropped)
	}
}
