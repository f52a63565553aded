package agent

import (
	"sync"
	"testing"
)

func TestTaskQueueFIFO(t *testing.T) {
	q := newTaskQueue()
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		q.Enqueue(func() { order = append(order, i) })
	}

	for {
		task, ok := q.TryDequeue()
		if !ok {
			break
		}
		task()
	}

	if len(order) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestTaskQueueEmpty(t *testing.T) {
	q := newTaskQueue()
	if task, ok := q.TryDequeue(); ok || task != nil {
		t.Fatal("TryDequeue on empty queue should report empty")
	}
}

func TestTaskQueueNoDeduplication(t *testing.T) {
	q := newTaskQueue()
	runs := 0
	task := func() { runs++ }
	q.Enqueue(task)
	q.Enqueue(task)

	for {
		task, ok := q.TryDequeue()
		if !ok {
			break
		}
		task()
	}
	if runs != 2 {
		t.Fatalf("task ran %d times, want 2", runs)
	}
}

func TestTaskQueueConcurrentProducers(t *testing.T) {
	q := newTaskQueue()
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(func() {})
			}
		}()
	}
	wg.Wait()

	if got := q.Len(); got != producers*perProducer {
		t.Fatalf("queue has %d tasks, want %d", got, producers*perProducer)
	}
}
