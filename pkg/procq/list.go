package procq

// node pointers stay valid while the worker runs callbacks outside the lock,
// so the worker can unlink exactly the element it processed.
type node[T any] struct {
	value item[T]
	prev  *node[T]
	next  *node[T]
}

// list is a doubly linked FIFO. It is not synchronized; Queue guards it.
type list[T any] struct {
	head *node[T]
	tail *node[T]
	len  int
}

func (l *list[T]) pushBack(v item[T]) {
	n := &node[T]{value: v}
	if l.len == 0 {
		l.head = n
		l.tail = n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.len++
}

func (l *list[T]) remove(n *node[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}

	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}

	n.next = nil
	n.prev = nil
	l.len--
}
