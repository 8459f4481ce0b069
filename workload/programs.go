package workload

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
	"github.com/yoglang/yoggc/roots"
)

// Program is a named workload.
type Program struct {
	Name  string
	Usage string
	Run   func(e *Env) error
}

var programs = map[string]Program{}

func register(name, usage string, run func(e *Env) error) {
	programs[name] = Program{Name: name, Usage: usage, Run: run}
}

func init() {
	register("barrier", "store young objects into an old container", runBarrier)
	register("bignum", "factorial and fibonacci on heap bignums", runBignum)
	register("closures", "counters with captured cells", runClosures)
	register("dict", "insert, update and look up string keys", runDict)
	register("ffi", "native structs used under pins", runFFI)
	register("list", "build, reverse and filter a linked list", runList)
	register("oom", "keep allocating live data until the heap gives up", runOOM)
	register("strings", "concatenation and interning", runStrings)
	register("threads", "green threads with their own frames", runThreads)
}

// Programs returns all workloads sorted by name.
func Programs() []Program {
	list := make([]Program, 0, len(programs))
	for _, p := range programs {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Lookup returns the workload with the given name.
func Lookup(name string) (Program, bool) {
	p, ok := programs[name]
	return p, ok
}

func runList(e *Env) error {
	return e.Frame("list", 5, func(f *roots.Frame) error {
		const list, value, reversed, cursor, evens = 0, 1, 2, 3, 4
		for i := 1000; i >= 1; i-- {
			f.Slots[value] = e.NewInt(uint64(i))
			f.Slots[list] = e.NewPair(&f.Slots[value], &f.Slots[list])
		}
		n, sum := e.sumList(f.Slots[list])
		fmt.Fprintf(e.Out, "length %d sum %d\n", n, sum)

		for f.Slots[cursor] = f.Slots[list]; f.Slots[cursor] != object.Nil; f.Slots[cursor] = e.Heap.Load(f.Slots[cursor], 1) {
			f.Slots[value] = e.Heap.Load(f.Slots[cursor], 0)
			f.Slots[reversed] = e.NewPair(&f.Slots[value], &f.Slots[reversed])
		}
		f.Slots[list] = object.Nil
		e.Collect()
		fmt.Fprintf(e.Out, "reversed head %d\n", e.IntValue(e.Heap.Load(f.Slots[reversed], 0)))

		for f.Slots[cursor] = f.Slots[reversed]; f.Slots[cursor] != object.Nil; f.Slots[cursor] = e.Heap.Load(f.Slots[cursor], 1) {
			f.Slots[value] = e.Heap.Load(f.Slots[cursor], 0)
			if e.IntValue(f.Slots[value])%2 == 0 {
				f.Slots[evens] = e.NewPair(&f.Slots[value], &f.Slots[evens])
			}
		}
		n, sum = e.sumList(f.Slots[evens])
		fmt.Fprintf(e.Out, "evens %d sum %d head %d\n", n, sum, e.IntValue(e.Heap.Load(f.Slots[evens], 0)))
		return nil
	})
}

func (e *Env) sumList(p object.Ref) (n int, sum uint64) {
	for ; p != object.Nil; p = e.Heap.Load(p, 1) {
		n++
		sum += e.IntValue(e.Heap.Load(p, 0))
	}
	return n, sum
}

func runStrings(e *Env) error {
	return e.Frame("strings", 2, func(f *roots.Frame) error {
		const acc, piece = 0, 1
		f.Slots[acc] = e.NewString("")
		for i := 0; i < 100; i++ {
			f.Slots[piece] = e.NewString(strconv.Itoa(i) + ",")
			f.Slots[acc] = e.Concat(&f.Slots[acc], &f.Slots[piece])
		}
		s := e.StringValue(f.Slots[acc])
		fmt.Fprintf(e.Out, "len %d\n", len(s))
		fmt.Fprintf(e.Out, "head %s\n", s[:20])
		fmt.Fprintf(e.Out, "tail %s\n", s[len(s)-9:])

		e.Intern("alpha")
		e.Intern("beta")
		alpha := e.Intern("alpha")
		if alpha != e.Intern("alpha") || e.StringValue(alpha) != "alpha" {
			return errors.New("intern table returned a different string")
		}
		fmt.Fprintf(e.Out, "interned %d\n", e.InternedCount())
		for i := 0; i < 20; i++ {
			e.Intern(fmt.Sprintf("sym%02d", i))
		}
		e.Collect()
		fmt.Fprintf(e.Out, "interned %d pins %d\n", e.InternedCount(), e.Heap.PinCount())
		fmt.Fprintf(e.Out, "last %s\n", e.StringValue(e.Intern("sym19")))
		return nil
	})
}

func runDict(e *Env) error {
	return e.Frame("dict", 3, func(f *roots.Frame) error {
		const dict, key, value = 0, 1, 2
		f.Slots[dict] = e.NewDict()
		for i := 0; i < 300; i++ {
			f.Slots[key] = e.NewString(fmt.Sprintf("key%03d", i))
			f.Slots[value] = e.NewInt(uint64(i))
			e.DictSet(&f.Slots[dict], &f.Slots[key], &f.Slots[value])
		}
		for i := 0; i < 300; i++ {
			f.Slots[key] = e.NewString(fmt.Sprintf("key%03d", i))
			f.Slots[value] = e.NewInt(uint64(i * i))
			e.DictSet(&f.Slots[dict], &f.Slots[key], &f.Slots[value])
		}
		f.Slots[key], f.Slots[value] = object.Nil, object.Nil
		e.Collect()

		var sum uint64
		for i := 0; i < 300; i++ {
			v, ok := e.DictGet(f.Slots[dict], fmt.Sprintf("key%03d", i))
			if !ok {
				return errors.Newf("key%03d is missing", i)
			}
			sum += e.IntValue(v)
		}
		fmt.Fprintf(e.Out, "count %d sum %d\n", e.DictLen(f.Slots[dict]), sum)
		if _, ok := e.DictGet(f.Slots[dict], "nope"); !ok {
			fmt.Fprintln(e.Out, "missing nope")
		}
		return nil
	})
}

const (
	codeCounter = iota
	codeAdder
	codeGet
)

var closureCodes = []Code{
	codeCounter: func(e *Env, closure, arg *object.Ref) object.Ref {
		n := e.IntValue(e.CellGet(e.Captured(*closure, 0))) + e.IntValue(*arg)
		v := e.NewInt(n)
		e.CellSet(e.Captured(*closure, 0), v)
		return v
	},
	codeAdder: func(e *Env, closure, arg *object.Ref) object.Ref {
		return e.NewInt(e.IntValue(e.CellGet(e.Captured(*closure, 0))) + e.IntValue(*arg))
	},
	codeGet: func(e *Env, closure, _ *object.Ref) object.Ref {
		return e.CellGet(e.Captured(*closure, 0))
	},
}

// makeClosure allocates a closure running code that captures the cell in
// *cell.
func (e *Env) makeClosure(code int, cell *object.Ref) (c object.Ref) {
	e.Scope(func() {
		cells := e.Keep(e.Heap.Allocate(object.WordSize, layout.ValueArray))
		e.Heap.Store(*cells, 0, *cell)
		c = e.NewClosure(code, cells)
	})
	return c
}

func (e *Env) newCellOf(n uint64) (cell object.Ref) {
	e.Scope(func() {
		v := e.Keep(e.NewInt(n))
		cell = e.NewCell(v)
	})
	return cell
}

func runClosures(e *Env) error {
	return e.Frame("closures", 5, func(f *roots.Frame) error {
		const counters, closure, arg, result, cell = 0, 1, 2, 3, 4
		f.Slots[counters] = e.NewArray(0)
		for k := 0; k < 5; k++ {
			f.Slots[cell] = e.newCellOf(uint64(k * 100))
			f.Slots[closure] = e.makeClosure(codeCounter, &f.Slots[cell])
			e.ArrayAppend(&f.Slots[counters], &f.Slots[closure])
		}
		f.Slots[arg] = e.NewInt(1)
		for k := 0; k < 5; k++ {
			for j := 0; j < (k+1)*10; j++ {
				f.Slots[closure] = e.ArrayGet(f.Slots[counters], k)
				f.Slots[result] = e.Call(closureCodes, &f.Slots[closure], &f.Slots[arg])
			}
		}
		for k := 0; k < 5; k++ {
			c := e.ArrayGet(f.Slots[counters], k)
			fmt.Fprintf(e.Out, "counter %d: %d\n", k, e.IntValue(e.CellGet(e.Captured(c, 0))))
		}

		f.Slots[cell] = e.newCellOf(40)
		f.Slots[closure] = e.makeClosure(codeAdder, &f.Slots[cell])
		f.Slots[arg] = e.NewInt(2)
		f.Slots[result] = e.Call(closureCodes, &f.Slots[closure], &f.Slots[arg])
		fmt.Fprintf(e.Out, "adder %d\n", e.IntValue(f.Slots[result]))

		// Two closures sharing one captured variable.
		f.Slots[cell] = e.newCellOf(0)
		f.Slots[closure] = e.makeClosure(codeCounter, &f.Slots[cell])
		f.Slots[result] = e.makeClosure(codeGet, &f.Slots[cell])
		f.Slots[cell] = object.Nil
		f.Slots[arg] = e.NewInt(1)
		for i := 0; i < 3; i++ {
			e.Call(closureCodes, &f.Slots[closure], &f.Slots[arg])
		}
		f.Slots[closure] = object.Nil
		e.Collect()
		v := e.Call(closureCodes, &f.Slots[result], &f.Slots[arg])
		fmt.Fprintf(e.Out, "shared %d\n", e.IntValue(v))
		return nil
	})
}

func runBignum(e *Env) error {
	return e.Frame("bignum", 3, func(f *roots.Frame) error {
		const acc, a, b = 0, 1, 2
		f.Slots[acc] = e.NewInt(1)
		for i := uint64(2); i <= 50; i++ {
			v := e.BignumValue(f.Slots[acc])
			v.Mul(v, uint256.NewInt(i))
			f.Slots[acc] = e.NewBignum(v)
		}
		fmt.Fprintf(e.Out, "50! = %s\n", e.BignumValue(f.Slots[acc]).ToBig())
		fmt.Fprintf(e.Out, "limbs %d\n", e.Heap.PayloadWords(f.Slots[acc])-1)

		f.Slots[a] = e.NewInt(0)
		f.Slots[b] = e.NewInt(1)
		for i := 0; i < 300; i++ {
			next := new(uint256.Int).Add(e.BignumValue(f.Slots[a]), e.BignumValue(f.Slots[b]))
			f.Slots[a] = f.Slots[b]
			f.Slots[b] = e.NewBignum(next)
		}
		fmt.Fprintf(e.Out, "fib(300) = %s\n", e.BignumValue(f.Slots[a]).ToBig())
		return nil
	})
}

func runBarrier(e *Env) error {
	return e.Frame("barrier", 2, func(f *roots.Frame) error {
		const container, value = 0, 1
		const width = 64
		f.Slots[container] = e.NewArray(width)
		for i := 0; i < width; i++ {
			f.Slots[value] = e.NewInt(0)
			e.ArrayAppend(&f.Slots[container], &f.Slots[value])
		}
		// Make the container old.
		for i := 0; i < 3; i++ {
			e.Collect()
		}
		for i := 0; i < 2000; i++ {
			f.Slots[value] = e.NewInt(uint64(i))
			e.ArraySet(f.Slots[container], i%width, f.Slots[value])
			if i > 0 && i%100 == 0 {
				prev := e.IntValue(e.ArrayGet(f.Slots[container], (i-1)%width))
				if prev != uint64(i-1) {
					return errors.Newf("slot %d holds %d, want %d", (i-1)%width, prev, i-1)
				}
			}
		}
		var sum uint64
		for i := 0; i < width; i++ {
			sum += e.IntValue(e.ArrayGet(f.Slots[container], i))
		}
		fmt.Fprintf(e.Out, "sum %d last %d\n", sum, e.IntValue(e.ArrayGet(f.Slots[container], 1999%width)))
		return nil
	})
}

func runFFI(e *Env) error {
	return e.Frame("ffi", 2, func(f *roots.Frame) error {
		const kept, s = 0, 1
		f.Slots[kept] = e.NewArray(0)
		for i := 0; i < 20; i++ {
			f.Slots[s] = e.NewFFIStruct(16)
			err := e.NativeCall(f.Slots[s], func(mem []byte) error {
				for j := range mem {
					mem[j] = byte(i)
				}
				// Native code calling back into the runtime.
				e.NewString("callback")
				return nil
			})
			if err != nil {
				return err
			}
			if i%4 == 0 {
				e.ArrayAppend(&f.Slots[kept], &f.Slots[s])
			}
		}
		f.Slots[s] = object.Nil
		e.Collect()

		sum := 0
		for i := 0; i < e.ArrayLen(f.Slots[kept]); i++ {
			err := e.NativeCall(e.ArrayGet(f.Slots[kept], i), func(mem []byte) error {
				for _, b := range mem {
					sum += int(b)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(e.Out, "kept %d checksum %d pins %d\n", e.ArrayLen(f.Slots[kept]), sum, e.Heap.PinCount())

		errNative := errors.New("EINVAL")
		err := e.NativeCall(e.ArrayGet(f.Slots[kept], 0), func([]byte) error { return errNative })
		fmt.Fprintf(e.Out, "error %v pins %d\n", errors.Is(err, errNative), e.Heap.PinCount())
		return nil
	})
}

type worker struct {
	id    int
	frame *roots.Frame
	step  int
}

// runThreads schedules workers round robin. Every parkEvery steps a worker
// parks on a wait list with its locals moved to a heap frame; once no
// worker is runnable the heap is collected and the parked ones resume.
func runThreads(e *Env) error {
	const workers, steps, parkEvery = 4, 50, 10
	const list, value, saved = 0, 1, 2
	states := make(map[*roots.Thread]*worker)
	var threads []*roots.Thread
	queue := e.Roots.RunQueue()
	for k := 0; k < workers; k++ {
		t := e.Roots.NewThread(fmt.Sprintf("worker-%d", k))
		w := &worker{id: k, frame: t.PushFrame("worker", 3)}
		w.frame.Slots[list] = e.NewArray(0)
		states[t] = w
		threads = append(threads, t)
		queue.Push(t)
	}
	var parked roots.Stack
	parks, rounds := 0, 0
	for {
		if queue.Empty() {
			if parked.Empty() {
				break
			}
			e.Collect()
			rounds++
			resumed := parked.Queue()
			queue.Append(&resumed)
		}
		t := queue.Pop()
		w := states[t]
		if w.frame.Slots[saved] != object.Nil {
			w.frame.Slots[saved] = e.Resume(w.frame.Slots[saved], w.frame.Slots[list:list+1])
		}
		w.frame.Slots[value] = e.NewInt(uint64(w.id*1000 + w.step))
		e.ArrayAppend(&w.frame.Slots[list], &w.frame.Slots[value])
		w.frame.Slots[value] = object.Nil
		e.NewString("tick")
		w.step++
		switch {
		case w.step == steps:
		case w.step%parkEvery == 0:
			w.frame.Slots[saved] = e.Suspend(&w.frame.Slots[saved], w.frame.Slots[list:list+1])
			parked.Push(t)
			parks++
		default:
			queue.Push(t)
		}
	}
	for _, t := range threads {
		w := states[t]
		var sum uint64
		arr := w.frame.Slots[list]
		for i := 0; i < e.ArrayLen(arr); i++ {
			sum += e.IntValue(e.ArrayGet(arr, i))
		}
		fmt.Fprintf(e.Out, "%s %d items sum %d\n", t.Name, e.ArrayLen(arr), sum)
		t.PopFrame(w.frame)
		e.Roots.Exit(t)
	}
	fmt.Fprintf(e.Out, "parks %d rounds %d\n", parks, rounds)
	return nil
}

func runOOM(e *Env) error {
	return e.Frame("oom", 2, func(f *roots.Frame) error {
		const list, chunk = 0, 1
		f.Slots[list] = e.NewArray(0)
		for i := 0; i < 1<<20; i++ {
			f.Slots[chunk] = e.Heap.Allocate(64<<10, layout.String)
			e.ArrayAppend(&f.Slots[list], &f.Slots[chunk])
		}
		return errors.New("heap did not run out of memory")
	})
}
