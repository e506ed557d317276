package trace

import (
	"sync"
)

// Token is one level of a fanout topic: a bus id string, a device address, or
// the single-level wildcard Any.
type Token struct {
	kind byte // 0 = string, 1 = int, 2 = wildcard
	sval string
	ival int
}

func S(s string) Token { return Token{kind: 0, sval: s} }
func I(i int) Token    { return Token{kind: 1, ival: i} }

// Any matches exactly one level.
var Any = Token{kind: 2}

// Topic is a sequence of tokens. Records publish on [S(bus), I(addr)].
type Topic []Token

// TopicOf is the topic r is published on.
func TopicOf(r Record) Topic { return Topic{S(r.Bus), I(int(r.Addr))} }

// Subscription receives records matching its topic until unsubscribed.
type Subscription struct {
	topic  Topic
	ch     chan Record
	f      *Fanout
	closed bool // guarded by f.mu
}

func (s *Subscription) Topic() Topic           { return s.topic }
func (s *Subscription) Channel() <-chan Record { return s.ch }
func (s *Subscription) Unsubscribe()           { s.f.unsubscribe(s) }

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Record
}

// Fanout is a Sink that distributes records to subscribers by bus and
// address. The last record per device is retained and replayed to new
// subscribers. Slow subscribers lose their oldest records; publishing never
// blocks the transfer path.
type Fanout struct {
	mu   sync.Mutex
	root *node
	qLen int
}

// NewFanout creates a fanout with the given per-subscription queue length.
func NewFanout(queueLen int) *Fanout {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Fanout{root: &node{}, qLen: queueLen}
}

// Subscribe registers interest in topic, which may contain Any.
func (f *Fanout) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: append(Topic(nil), topic...),
		ch:    make(chan Record, f.qLen),
		f:     f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.root
	for _, tok := range topic {
		if n.children == nil {
			n.children = make(map[Token]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	retainedMatching(f.root, topic, func(r *Record) { offer(sub.ch, *r) })
	return sub
}

// Record publishes r. It satisfies Sink.
func (f *Fanout) Record(r Record) {
	topic := TopicOf(r)

	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.root
	for _, tok := range topic {
		if n.children == nil {
			n.children = make(map[Token]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.retained = &r

	subscribersMatching(f.root, topic, func(s *Subscription) { offer(s.ch, r) })
}

// Retained returns the last record published on a concrete topic.
func (f *Fanout) Retained(bus string, addr uint16) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.root
	for _, tok := range (Topic{S(bus), I(int(addr))}) {
		child, ok := n.children[tok]
		if !ok {
			return Record{}, false
		}
		n = child
	}
	if n.retained == nil {
		return Record{}, false
	}
	return *n.retained, true
}

// offer delivers without blocking, dropping the oldest queued record when
// the queue is full.
func offer(ch chan Record, r Record) {
	for {
		select {
		case ch <- r:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// subscribersMatching visits subscriptions whose pattern matches the concrete
// topic.
func subscribersMatching(n *node, topic Topic, fn func(*Subscription)) {
	if len(topic) == 0 {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c, ok := n.children[topic[0]]; ok {
		subscribersMatching(c, topic[1:], fn)
	}
	if c, ok := n.children[Any]; ok {
		subscribersMatching(c, topic[1:], fn)
	}
}

// retainedMatching visits retained records on concrete topics matched by
// pattern.
func retainedMatching(n *node, pattern Topic, fn func(*Record)) {
	if len(pattern) == 0 {
		if n.retained != nil {
			fn(n.retained)
		}
		return
	}
	if pattern[0] == Any {
		for tok, c := range n.children {
			if tok != Any {
				retainedMatching(c, pattern[1:], fn)
			}
		}
		return
	}
	if c, ok := n.children[pattern[0]]; ok {
		retainedMatching(c, pattern[1:], fn)
	}
}

func (f *Fanout) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	defer close(sub.ch)

	n := f.root
	var stack []*node
	for _, t := range sub.topic {
		child, ok := n.children[t]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	// Prune empty nodes.
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.topic[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}
