package core

import "time"

// Timer wheel geometry, ported from skynet_timer.c: a 256-slot near
// ring gives one-tick precision for the next 2.56 seconds, backed by
// four 64-slot levels that each cover a 64x coarser span. A tick is
// one centisecond (1/100s), matching the original.
const (
	timeNearShift = 8
	timeNear      = 1 << timeNearShift
	timeNearMask  = timeNear - 1

	timeLevelShift = 6
	timeLevel      = 1 << timeLevelShift
	timeLevelMask  = timeLevel - 1

	timerLevels = 4
)

// timerEvent is what gets dispatched when a node fires: enough to
// synthesize a TypeResponse Message back to the handle that asked for
// the timeout.
type timerEvent struct {
	handle  Handle
	session uint64
}

type timerNode struct {
	next   *timerNode
	expire uint32
	event  timerEvent
}

// linkList is a singly linked list with a tail pointer for O(1)
// append, same shape as skynet_timer.c's link_list (sentinel head +
// tail).
type linkList struct {
	head timerNode
	tail *timerNode
}

func (l *linkList) clear() *timerNode {
	ret := l.head.next
	l.head.next = nil
	l.tail = &l.head
	return ret
}

func (l *linkList) append(n *timerNode) {
	l.tail.next = n
	l.tail = n
	n.next = nil
}

// Wheel is the hierarchical timing wheel. Dispatch is a callback
// invoked for each fired timerEvent; the Scheduler wires this to
// pushing a Message onto the target's queue so the wheel package
// itself never needs to know about Registry or serviceQueue.
type Wheel struct {
	lock Spinlock

	near  [timeNear]linkList
	level [timerLevels][timeLevel]linkList

	// time is the wheel's own tick counter (centiseconds since Init).
	time uint32

	startSec     uint32
	current      uint64
	currentPoint uint64

	// now is overridable in tests so the wheel can be driven without
	// real sleeps; production code leaves it as time.Now.
	now func() time.Time

	Dispatch func(timerEvent)
}

// NewWheel creates an initialized, empty Wheel. Call Init once before
// the first Update to establish the starting wall-clock reference.
func NewWheel() *Wheel {
	w := &Wheel{now: time.Now}
	for i := range w.near {
		w.near[i].clear()
	}
	for i := range w.level {
		for j := range w.level[i] {
			w.level[i][j].clear()
		}
	}
	return w
}

// Init records the starting wall-clock second and monotonic reference
// point, mirroring skynet_timer_init/systime.
func (w *Wheel) Init() {
	n := w.now()
	w.startSec = uint32(n.Unix())
	w.current = 0
	w.currentPoint = monotonicCentiseconds(n)
}

func monotonicCentiseconds(t time.Time) uint64 {
	return uint64(t.UnixNano() / 10_000_000)
}

// StartTime returns the wall-clock second Init recorded.
func (w *Wheel) StartTime() uint32 {
	return w.startSec
}

// Now returns elapsed centiseconds since Init.
func (w *Wheel) Now() uint64 {
	return w.current
}

// Add schedules handle to receive a TypeResponse message carrying
// session after delayTicks centiseconds. delayTicks<=0 means
// immediate, in which case the caller should deliver the message
// itself rather than call Add (skynet_timeout's time<=0 fast path);
// Add always queues a node.
func (w *Wheel) Add(handle Handle, session uint64, delayTicks int) {
	node := &timerNode{event: timerEvent{handle: handle, session: session}}
	w.lock.Lock()
	node.expire = uint32(delayTicks) + w.time
	w.addNode(node)
	w.lock.Unlock()
}

// addNode places node in the near ring if it fires within the next
// 256 ticks, otherwise in the coarsest level whose span still
// distinguishes it from the current time, same bit-mask logic as
// add_node in skynet_timer.c.
func (w *Wheel) addNode(node *timerNode) {
	t := node.expire
	current := w.time

	if (t | timeNearMask) == (current | timeNearMask) {
		w.near[t&timeNearMask].append(node)
		return
	}

	mask := uint32(timeNear << timeLevelShift)
	i := 0
	for ; i < timerLevels-1; i++ {
		if (t | (mask - 1)) == (current | (mask - 1)) {
			break
		}
		mask <<= timeLevelShift
	}
	shift := uint(timeNearShift + i*timeLevelShift)
	idx := (t >> shift) & timeLevelMask
	w.level[i][idx].append(node)
}

// moveList relocates every node in level/idx back through addNode,
// which re-buckets each one to its now-correct, finer-grained slot.
func (w *Wheel) moveList(level, idx int) {
	current := w.level[level][idx].clear()
	for current != nil {
		next := current.next
		w.addNode(current)
		current = next
	}
}

// shift advances the wheel's tick counter by one, cascading coarser
// levels down into finer ones exactly when their slot's low bits
// return to zero, same as timer_shift.
func (w *Wheel) shift() {
	mask := uint32(timeNear)
	ct := w.time + 1
	w.time = ct
	if ct == 0 {
		w.moveList(timerLevels-1, 0)
		return
	}
	t := ct >> timeNearShift
	i := 0
	for (ct & (mask - 1)) == 0 {
		idx := int(t & timeLevelMask)
		if idx != 0 {
			w.moveList(i, idx)
			break
		}
		mask <<= timeLevelShift
		t >>= timeLevelShift
		i++
	}
}

// execute fires every node currently sitting in the near slot the
// wheel's tick counter points at. The lock is released before
// Dispatch runs so timer_add callers (Wheel.Add) aren't blocked while
// a potentially slow Dispatch callback runs.
func (w *Wheel) execute() {
	idx := w.time & timeNearMask
	for w.near[idx].head.next != nil {
		current := w.near[idx].clear()
		w.lock.Unlock()
		for current != nil {
			next := current.next
			if w.Dispatch != nil {
				w.Dispatch(current.event)
			}
			current = next
		}
		w.lock.Lock()
	}
}

// tick executes the current near slot, advances the wheel by one
// centisecond, and executes again so nodes cascaded down by shift
// fire in the same pass if they landed in the new current slot.
func (w *Wheel) tick() {
	w.lock.Lock()
	w.execute()
	w.shift()
	w.execute()
	w.lock.Unlock()
}

// Update advances the wheel to the current wall clock, ticking once
// per elapsed centisecond. A clock set backwards is logged by the
// caller (via the returned warn flag) and resynced without firing
// anything, matching skynet_updatetime's monotonic-diff guard.
func (w *Wheel) Update() (ticked int, clockWentBackwards bool) {
	cp := monotonicCentiseconds(w.now())
	if cp < w.currentPoint {
		w.currentPoint = cp
		return 0, true
	}
	if cp == w.currentPoint {
		return 0, false
	}
	diff := cp - w.currentPoint
	w.currentPoint = cp
	w.current += diff
	for i := uint64(0); i < diff; i++ {
		w.tick()
	}
	return int(diff), false
}
