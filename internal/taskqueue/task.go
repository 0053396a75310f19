package taskqueue

import (
	"fmt"
	"time"

	"github.com/eapache/queue"

	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/variant"
)

// Kind discriminates task types.
type Kind uint8

const (
	KindTest Kind = iota + 1
	KindValue
	KindValueSerial
	KindDependent
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindTest:
		return "test"
	case KindValue:
		return "value"
	case KindValueSerial:
		return "value_serial"
	case KindDependent:
		return "dependent"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Task is a unit of work. Concrete types are *TestTask, *ValueTask,
// *DependentTask and *SequenceTask.
type Task interface {
	ItemID() uint64
	HostID() uint64
	Kind() Kind
	// Release drops the definition and cache references held by the task.
	Release()
}

// ValueTask preprocesses one value of an item. Its kind is KindValueSerial
// when the item runs in Serial mode.
type ValueTask struct {
	itemID uint64
	kind   Kind

	Def   *preproc.Definition
	Value variant.Value
	TS    time.Time
	Opt   *preproc.ValueOpt
	Cache *preproc.Cache

	// Result is set by the worker.
	Result variant.Value
}

// NewValueTask creates a value task taking its own reference to def. cache,
// when set, is owned by the task from now on.
func NewValueTask(itemID uint64, def *preproc.Definition, value variant.Value, ts time.Time,
	opt *preproc.ValueOpt, cache *preproc.Cache) *ValueTask {
	kind := KindValue
	if def.Mode() == preproc.ModeSerial {
		kind = KindValueSerial
	}
	return &ValueTask{
		itemID: itemID,
		kind:   kind,
		Def:    def.Acquire(),
		Value:  value,
		TS:     ts,
		Opt:    opt,
		Cache:  cache,
	}
}

func (t *ValueTask) ItemID() uint64 { return t.itemID }
func (t *ValueTask) HostID() uint64 { return t.Def.HostID() }
func (t *ValueTask) Kind() Kind     { return t.kind }

// Release drops the task's references.
func (t *ValueTask) Release() {
	if t.Def != nil {
		t.Def.Release()
		t.Def = nil
	}
	if t.Cache != nil {
		t.Cache.Release()
		t.Cache = nil
	}
}

// TestResult is delivered to the caller of a test request.
type TestResult struct {
	Value   variant.Value
	Results []preproc.StepResult
	History *preproc.History
}

// TestClient receives test results.
type TestClient interface {
	Reply(TestResult)
}

// TestClientFunc adapts a function to TestClient.
type TestClientFunc func(TestResult)

// Reply calls f.
func (f TestClientFunc) Reply(r TestResult) { f(r) }

// TestTask evaluates a value against an ad-hoc definition and reports every
// step outcome.
type TestTask struct {
	Def     *preproc.Definition
	Value   variant.Value
	TS      time.Time
	Client  TestClient
	History *preproc.History

	// Set by the worker.
	Result     variant.Value
	Results    []preproc.StepResult
	HistoryOut *preproc.History
}

// NewTestTask creates a test task taking its own reference to def.
func NewTestTask(def *preproc.Definition, value variant.Value, ts time.Time,
	client TestClient, history *preproc.History) *TestTask {
	return &TestTask{
		Def:     def.Acquire(),
		Value:   value,
		TS:      ts,
		Client:  client,
		History: history,
	}
}

func (t *TestTask) ItemID() uint64 { return t.Def.ItemID() }
func (t *TestTask) HostID() uint64 { return t.Def.HostID() }
func (t *TestTask) Kind() Kind     { return KindTest }

// Release drops the task's definition reference.
func (t *TestTask) Release() {
	if t.Def != nil {
		t.Def.Release()
		t.Def = nil
	}
}

// Reply sends the outcome to the client, if any.
func (t *TestTask) Reply() {
	if t.Client == nil {
		return
	}
	t.Client.Reply(TestResult{Value: t.Result, Results: t.Results, History: t.HistoryOut})
}

// DependentTask applies a master item's freshly computed value to one
// dependent item through a shared cache. Its item is the master; Primary is
// the task of the dependent item that runs on the worker.
type DependentTask struct {
	itemID uint64

	Def     *preproc.Definition
	Primary *ValueTask
	Cache   *preproc.Cache
}

// NewDependentTask creates a dependent task for master itemID, taking a
// reference to the master definition. primary and cache are owned by the
// task from now on.
func NewDependentTask(itemID uint64, def *preproc.Definition, primary *ValueTask,
	cache *preproc.Cache) *DependentTask {
	return &DependentTask{
		itemID:  itemID,
		Def:     def.Acquire(),
		Primary: primary,
		Cache:   cache,
	}
}

func (t *DependentTask) ItemID() uint64 { return t.itemID }
func (t *DependentTask) HostID() uint64 { return t.Def.HostID() }
func (t *DependentTask) Kind() Kind     { return KindDependent }

// Release drops the wrapper's references and the primary task, if still
// attached.
func (t *DependentTask) Release() {
	if t.Primary != nil {
		t.Primary.Release()
		t.Primary = nil
	}
	t.ReleaseWrapper()
}

// ReleaseWrapper drops the master definition and cache but leaves Primary
// untouched.
func (t *DependentTask) ReleaseWrapper() {
	if t.Def != nil {
		t.Def.Release()
		t.Def = nil
	}
	if t.Cache != nil {
		t.Cache.Release()
		t.Cache = nil
	}
}

// SequenceTask is the FIFO of queued tasks of one Serial item. Only its head
// is executed; it is accessed under the queue lock.
type SequenceTask struct {
	itemID uint64
	hostID uint64
	tasks  *queue.Queue
}

func newSequenceTask(itemID, hostID uint64) *SequenceTask {
	return &SequenceTask{itemID: itemID, hostID: hostID, tasks: queue.New()}
}

func (t *SequenceTask) ItemID() uint64 { return t.itemID }
func (t *SequenceTask) HostID() uint64 { return t.hostID }
func (t *SequenceTask) Kind() Kind     { return KindSequence }

// Release drops every queued task.
func (t *SequenceTask) Release() {
	for t.tasks.Length() > 0 {
		t.tasks.Remove().(Task).Release()
	}
}

// Len returns the number of queued tasks.
func (t *SequenceTask) Len() int { return t.tasks.Length() }

// Head returns the task to execute next, or nil.
func (t *SequenceTask) Head() Task {
	if t.tasks.Length() == 0 {
		return nil
	}
	return t.tasks.Peek().(Task)
}

// Pop removes and returns the head, or nil.
func (t *SequenceTask) Pop() Task {
	if t.tasks.Length() == 0 {
		return nil
	}
	return t.tasks.Remove().(Task)
}

func (t *SequenceTask) push(task Task) {
	t.tasks.Add(task)
}

// IsSerial reports whether the task must run through its item's sequence.
func IsSerial(t Task) bool {
	switch t := t.(type) {
	case *ValueTask:
		return t.kind == KindValueSerial
	case *DependentTask:
		return t.Primary != nil && t.Primary.kind == KindValueSerial
	default:
		return false
	}
}

// sequenceKey returns the item whose sequence a serial task belongs to.
func sequenceKey(t Task) (itemID, hostID uint64) {
	if d, ok := t.(*DependentTask); ok && d.Primary != nil {
		return d.Primary.ItemID(), d.Primary.HostID()
	}
	return t.ItemID(), t.HostID()
}
