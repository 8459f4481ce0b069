package roots

// Queue is a FIFO container of threads, used as the run queue of the
// cooperative scheduler. The zero value is an empty queue.
// Threads are only ever touched while the heap lock is held, so there is no
// locking here.
type Queue struct {
	head, tail *Thread
}

// Push a thread onto the queue.
func (q *Queue) Push(t *Thread) {
	if t.Next != nil {
		panic("roots: pushing a thread to a queue with a non-nil Next pointer")
	}
	if q.tail != nil {
		q.tail.Next = t
	}
	q.tail = t
	if q.head == nil {
		q.head = t
	}
}

// Pop a thread off of the queue.
func (q *Queue) Pop() *Thread {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.Next
	if q.tail == t {
		q.tail = nil
	}
	t.Next = nil
	return t
}

// Append pops the contents of another queue and pushes them onto the end of this queue.
func (q *Queue) Append(other *Queue) {
	if other.head == nil {
		return
	}
	if q.head == nil {
		q.head = other.head
	} else {
		q.tail.Next = other.head
	}
	q.tail = other.tail
	other.head, other.tail = nil, nil
}

// Empty checks if the queue is empty.
func (q *Queue) Empty() bool {
	return q.head == nil
}

// Stack is a LIFO container of threads, used for threads waiting on
// something. The zero value is an empty stack.
type Stack struct {
	top *Thread
}

// Push a thread onto the stack.
func (s *Stack) Push(t *Thread) {
	if t.Next != nil {
		panic("roots: pushing a thread to a stack with a non-nil Next pointer")
	}
	s.top, t.Next = t, s.top
}

// Empty checks if the stack is empty.
func (s *Stack) Empty() bool {
	return s.top == nil
}

// Pop a thread off of the stack.
func (s *Stack) Pop() *Thread {
	t := s.top
	if t != nil {
		s.top = t.Next
		t.Next = nil
	}
	return t
}

// tail follows the chain of threads.
// If t is nil, returns nil.
// Otherwise, returns the thread in the chain where the Next field is nil.
func (t *Thread) tail() *Thread {
	if t == nil {
		return nil
	}
	for t.Next != nil {
		t = t.Next
	}
	return t
}

// Queue moves the contents of the stack into a queue.
// Elements can be popped from the queue in the same order that they would be popped from the stack.
func (s *Stack) Queue() Queue {
	head := s.top
	s.top = nil
	return Queue{
		head: head,
		tail: head.tail(),
	}
}
