package ecs

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

// System is a unit of work a stage schedules.
type System interface {
	Name() string
	Meta() *SystemMeta
	// Initialize registers the system's access with w. It runs once before the first run.
	Initialize(w *World)
	// UpdateArchetypeComponentAccess extends the archetype-level access with archetypes created
	// since the last call.
	UpdateArchetypeComponentAccess(w *World)
	// Run executes the system with input and returns its output.
	Run(input any, w *World) any
	// ApplyBuffers applies deferred work such as commands and returns what failed.
	ApplyBuffers(w *World) error
	// CheckChangeTick clamps the last-run tick so it stays comparable with changeTick.
	CheckChangeTick(changeTick uint32)
	IsExclusive() bool
}

// SystemMeta is the bookkeeping every system carries: its access at kind and archetype level and
// its last-run tick.
type SystemMeta struct {
	name                     string
	componentAccessSet       FilteredAccessSet[component.KindID]
	archetypeComponentAccess Access[ArchetypeComponentID]
	isSend                   bool
	lastChangeTick           uint32
	archetypeGeneration      ArchetypeGeneration
	worldID                  uuid.UUID
	runningOnWorker          atomic.Bool
}

func newSystemMeta(name string) SystemMeta {
	return SystemMeta{name: name, isSend: true}
}

func (m *SystemMeta) Name() string { return m.name }

// ComponentAccess is the kind-level access used for ambiguity detection.
func (m *SystemMeta) ComponentAccess() *FilteredAccessSet[component.KindID] {
	return &m.componentAccessSet
}

// ArchetypeComponentAccess is the access the parallel executor schedules against.
func (m *SystemMeta) ArchetypeComponentAccess() *Access[ArchetypeComponentID] {
	return &m.archetypeComponentAccess
}

// IsSend reports whether the system may run on a worker goroutine.
func (m *SystemMeta) IsSend() bool { return m.isSend }

// SetNonSend forces the system onto the goroutine driving the stage.
func (m *SystemMeta) SetNonSend() { m.isSend = false }

func (m *SystemMeta) LastChangeTick() uint32        { return m.lastChangeTick }
func (m *SystemMeta) SetLastChangeTick(tick uint32) { m.lastChangeTick = tick }

// SetRunningOnWorker is called by executors around runs on worker goroutines.
func (m *SystemMeta) SetRunningOnWorker(on bool) { m.runningOnWorker.Store(on) }

func (m *SystemMeta) bindWorld(w *World) {
	if m.worldID == uuid.Nil {
		m.worldID = w.id
		return
	}
	m.checkWorld(w)
}

func (m *SystemMeta) checkWorld(w *World) {
	if m.worldID != w.id {
		panic(eris.Wrapf(ErrWorldMismatch, "system %s was initialized with world %v, not %v", m.name, m.worldID, w.id))
	}
}

// addFiltered adds access after checking it against every access already declared.
func (m *SystemMeta) addFiltered(w *World, access FilteredAccess[component.KindID], param string) {
	for i := range m.componentAccessSet.filtered {
		if !m.componentAccessSet.filtered[i].IsCompatible(&access) {
			conflicts := m.componentAccessSet.GetConflicts(&access)
			panic(eris.Wrapf(ErrSystemAccessConflict, "%s in system %s conflicts with a previous system parameter on %s",
				param, m.name, KindNames(w.components, conflicts)))
		}
	}
	m.componentAccessSet.Add(access)
}

// KindNames renders kind ids for diagnostics. An empty list renders as World.
func KindNames(reg *component.Registry, kinds []component.KindID) string {
	if len(kinds) == 0 {
		return `["World"]`
	}
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = fmt.Sprintf("%q", reg.Info(kind).Name())
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// systemParam is implemented by the pointer of every type a function system accepts as parameter.
type systemParam interface {
	initParam(w *World, meta *SystemMeta)
	fetchParam(w *World, meta *SystemMeta, thisRun uint32)
	applyParam(w *World) error
	newArchetype(a *Archetype, meta *SystemMeta)
}

// bufferedParam is a parameter whose deferred queue can be cut back to an earlier mark.
type bufferedParam interface {
	markParam() CommandMark
	rollbackParam(m CommandMark) int
}

// BufferMarks records where each deferred queue of a system ended before a run.
type BufferMarks []CommandMark

// BufferedSystem is a system whose deferred queues can be rolled back. Executors mark the queues
// before Run and roll back when Run panics, so a failed run queues nothing.
type BufferedSystem interface {
	System
	MarkBuffers() BufferMarks
	// RollbackBuffers discards everything queued after marks and reports how many entries went.
	RollbackBuffers(marks BufferMarks) int
}

// inputParam is the In[T] parameter that receives piped input.
type inputParam interface {
	setInput(value any)
}

var (
	systemParamType = reflect.TypeFor[systemParam]()
	worldPtrType    = reflect.TypeFor[*World]()
)

type boundParam struct {
	param systemParam
	arg   reflect.Value
}

// FunctionSystem runs a Go function whose parameters are system parameters.
type FunctionSystem struct {
	meta        SystemMeta
	fn          reflect.Value
	params      []boundParam
	worldArg    int
	hasOutput   bool
	initialized bool
}

// NewFunctionSystem wraps fn. Every parameter must be a system parameter type: *QueryN, Res, ResMut,
// OptRes, OptResMut, NonSend, NonSendMut, Local, *Commands, WorldRef, *World, In (first only),
// RemovedComponents, EventReader or EventWriter. fn may return one value, handed to the next
// system of a pipe. An empty name is derived from the function.
func NewFunctionSystem(name string, fn any) *FunctionSystem {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		panic(eris.Wrapf(ErrInvalidSystem, "%T is not a function", fn))
	}
	if name == "" {
		name = funcName(rv)
	}
	t := rv.Type()
	if t.NumOut() > 1 {
		panic(eris.Wrapf(ErrInvalidSystem, "system %s returns %d values", name, t.NumOut()))
	}
	s := &FunctionSystem{meta: newSystemMeta(name), fn: rv, worldArg: -1, hasOutput: t.NumOut() == 1}
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		if pt == worldPtrType {
			s.worldArg = i
			s.params = append(s.params, boundParam{param: &worldParam{}})
			continue
		}
		var holder reflect.Value
		var arg reflect.Value
		if pt.Kind() == reflect.Pointer {
			holder = reflect.New(pt.Elem())
			arg = holder
		} else {
			holder = reflect.New(pt)
			arg = holder.Elem()
		}
		param, ok := holder.Interface().(systemParam)
		if !ok {
			panic(eris.Wrapf(ErrInvalidSystem, "parameter %d of system %s has unsupported type %v", i, name, pt))
		}
		if _, isInput := param.(inputParam); isInput && i != 0 {
			panic(eris.Wrapf(ErrInvalidSystem, "system %s takes In as parameter %d; it must be first", name, i))
		}
		s.params = append(s.params, boundParam{param: param, arg: arg})
	}
	return s
}

// SystemName is the name NewFunctionSystem derives for fn.
func SystemName(fn any) string { return funcName(reflect.ValueOf(fn)) }

func funcName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return fn.Type().String()
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (s *FunctionSystem) Name() string      { return s.meta.name }
func (s *FunctionSystem) Meta() *SystemMeta { return &s.meta }
func (s *FunctionSystem) IsExclusive() bool { return false }

func (s *FunctionSystem) Initialize(w *World) {
	s.meta.bindWorld(w)
	if s.initialized {
		return
	}
	s.initialized = true
	s.meta.lastChangeTick = w.ChangeTick() - component.MaxChangeAge
	for _, p := range s.params {
		p.param.initParam(w, &s.meta)
	}
}

func (s *FunctionSystem) UpdateArchetypeComponentAccess(w *World) {
	s.meta.checkWorld(w)
	for _, a := range w.archetypes.Since(s.meta.archetypeGeneration) {
		for _, p := range s.params {
			p.param.newArchetype(a, &s.meta)
		}
	}
	s.meta.archetypeGeneration = w.archetypes.Generation()
}

func (s *FunctionSystem) Run(input any, w *World) any {
	tick := w.IncrementChangeTick()
	args := make([]reflect.Value, len(s.params))
	for i, p := range s.params {
		if in, ok := p.param.(inputParam); ok {
			in.setInput(input)
		}
		p.param.fetchParam(w, &s.meta, tick)
		if i == s.worldArg {
			args[i] = reflect.ValueOf(w)
		} else {
			args[i] = p.arg
		}
	}
	out := s.fn.Call(args)
	s.meta.lastChangeTick = tick
	if !s.hasOutput {
		return nil
	}
	return out[0].Interface()
}

func (s *FunctionSystem) ApplyBuffers(w *World) error {
	var err error
	for _, p := range s.params {
		err = multierr.Append(err, p.param.applyParam(w))
	}
	if err != nil {
		return eris.Wrapf(err, "system %s", s.meta.name)
	}
	return nil
}

func (s *FunctionSystem) MarkBuffers() BufferMarks {
	var marks BufferMarks
	for _, p := range s.params {
		if b, ok := p.param.(bufferedParam); ok {
			marks = append(marks, b.markParam())
		}
	}
	return marks
}

func (s *FunctionSystem) RollbackBuffers(marks BufferMarks) int {
	dropped, i := 0, 0
	for _, p := range s.params {
		b, ok := p.param.(bufferedParam)
		if !ok {
			continue
		}
		if i < len(marks) {
			dropped += b.rollbackParam(marks[i])
		}
		i++
	}
	return dropped
}

func (s *FunctionSystem) CheckChangeTick(changeTick uint32) {
	component.CheckTick(&s.meta.lastChangeTick, changeTick)
}

// ExclusiveSystem runs with the whole world. It conflicts with every other system.
type ExclusiveSystem struct {
	meta SystemMeta
	fn   func(w *World)
}

// NewExclusiveSystem wraps fn. Inside fn, the world's LastChangeTick is the tick of the system's
// previous run, so queries built in fn see changes since then.
func NewExclusiveSystem(name string, fn func(w *World)) *ExclusiveSystem {
	if name == "" {
		name = funcName(reflect.ValueOf(fn))
	}
	s := &ExclusiveSystem{meta: newSystemMeta(name), fn: fn}
	s.meta.isSend = false
	s.meta.componentAccessSet.WriteAll()
	s.meta.archetypeComponentAccess.WriteAll()
	return s
}

func (s *ExclusiveSystem) Name() string      { return s.meta.name }
func (s *ExclusiveSystem) Meta() *SystemMeta { return &s.meta }
func (s *ExclusiveSystem) IsExclusive() bool { return true }

func (s *ExclusiveSystem) Initialize(w *World) {
	s.meta.bindWorld(w)
	s.meta.lastChangeTick = w.ChangeTick() - component.MaxChangeAge
}

func (s *ExclusiveSystem) UpdateArchetypeComponentAccess(w *World) {}

func (s *ExclusiveSystem) Run(_ any, w *World) any {
	saved := w.lastChangeTick
	w.lastChangeTick = s.meta.lastChangeTick
	s.fn(w)
	s.meta.lastChangeTick = w.ChangeTick()
	w.IncrementChangeTick()
	w.lastChangeTick = saved
	return nil
}

func (s *ExclusiveSystem) ApplyBuffers(*World) error { return nil }

func (s *ExclusiveSystem) CheckChangeTick(changeTick uint32) {
	component.CheckTick(&s.meta.lastChangeTick, changeTick)
}

// PipeSystem feeds the output of one system into the In parameter of another.
type PipeSystem struct {
	meta   SystemMeta
	first  System
	second System
	// split is where the second half's marks start in the last MarkBuffers result.
	split int
}

// Pipe chains first into second. The pipe's access is the union of both.
func Pipe(first, second System) *PipeSystem {
	return &PipeSystem{
		meta:   newSystemMeta(fmt.Sprintf("Pipe(%s, %s)", first.Name(), second.Name())),
		first:  first,
		second: second,
	}
}

func (p *PipeSystem) Name() string      { return p.meta.name }
func (p *PipeSystem) Meta() *SystemMeta { return &p.meta }
func (p *PipeSystem) IsExclusive() bool { return false }

func (p *PipeSystem) Initialize(w *World) {
	p.meta.bindWorld(w)
	p.first.Initialize(w)
	p.second.Initialize(w)
	p.meta.componentAccessSet = FilteredAccessSet[component.KindID]{}
	p.meta.componentAccessSet.Extend(p.first.Meta().ComponentAccess())
	p.meta.componentAccessSet.Extend(p.second.Meta().ComponentAccess())
	p.meta.isSend = p.first.Meta().IsSend() && p.second.Meta().IsSend()
}

func (p *PipeSystem) UpdateArchetypeComponentAccess(w *World) {
	p.first.UpdateArchetypeComponentAccess(w)
	p.second.UpdateArchetypeComponentAccess(w)
	p.meta.archetypeComponentAccess.Extend(p.first.Meta().ArchetypeComponentAccess())
	p.meta.archetypeComponentAccess.Extend(p.second.Meta().ArchetypeComponentAccess())
}

func (p *PipeSystem) Run(input any, w *World) any {
	first, second := p.first.Meta(), p.second.Meta()
	onWorker := p.meta.runningOnWorker.Load()
	first.SetRunningOnWorker(onWorker)
	second.SetRunningOnWorker(onWorker)
	return p.second.Run(p.first.Run(input, w), w)
}

func (p *PipeSystem) ApplyBuffers(w *World) error {
	return multierr.Append(p.first.ApplyBuffers(w), p.second.ApplyBuffers(w))
}

// MarkBuffers marks the queues of both halves, first then second.
func (p *PipeSystem) MarkBuffers() BufferMarks {
	first, second := markBuffers(p.first), markBuffers(p.second)
	p.split = len(first)
	return append(first, second...)
}

func (p *PipeSystem) RollbackBuffers(marks BufferMarks) int {
	split := min(p.split, len(marks))
	return rollbackBuffers(p.first, marks[:split]) + rollbackBuffers(p.second, marks[split:])
}

func markBuffers(sys System) BufferMarks {
	if b, ok := sys.(BufferedSystem); ok {
		return b.MarkBuffers()
	}
	return nil
}

func rollbackBuffers(sys System, marks BufferMarks) int {
	if b, ok := sys.(BufferedSystem); ok {
		return b.RollbackBuffers(marks)
	}
	return 0
}

func (p *PipeSystem) CheckChangeTick(changeTick uint32) {
	p.first.CheckChangeTick(changeTick)
	p.second.CheckChangeTick(changeTick)
}

// assertNonSend panics when a non-send resource is fetched by a system running on a worker.
func (w *World) assertNonSend(meta *SystemMeta) {
	if meta.runningOnWorker.Load() {
		panic(eris.Wrapf(ErrNonSendAccess, "system %s", meta.name))
	}
}

var (
	_ System = (*FunctionSystem)(nil)
	_ System = (*ExclusiveSystem)(nil)
	_ System = (*PipeSystem)(nil)

	_ BufferedSystem = (*FunctionSystem)(nil)
	_ BufferedSystem = (*PipeSystem)(nil)
)
