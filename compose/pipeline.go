package compose

import (
	"reflect"

	"github.com/favbox/chainflow/internal/generic"
)

// Pipeline 有序、不可变的阶段序列，本身也是一个阶段。
//
// 组合时嵌套的流水线会被展平，(A, B), C 与 A, (B, C) 得到完全相同的阶段序列，
// 因此执行轨迹（包括回调中的阶段下标）与分组方式无关。
// 不含任何阶段的流水线是恒等变换。
type Pipeline struct {
	stages []*composableRunnable
	// phases[i] 为第 i 个阶段执行时的调用阶段，组合时一次算好。
	phases []Phase
}

func (p *Pipeline) flatten() []*composableRunnable {
	if p == nil {
		return nil
	}
	return p.stages
}

// Compose 按顺序组合阶段。
//
// 组合时检查相邻阶段的类型：上一阶段的输出必须能赋值给下一阶段的输入（接口类型的输入接受任何实现），
// 否则返回 *CompositionError。上一阶段输出为接口类型时推迟到运行时逐值检查。
//
//	p, err := compose.Compose(
//		compose.ChatTemplateStage(tpl),
//		compose.ChatModelStage(cm),
//		compose.ParserStage[string](parser.NewStrOutputParser()),
//	)
func Compose(stages ...AnyStage) (*Pipeline, error) {
	var flat []*composableRunnable
	for _, s := range stages {
		// nil 阶段（含持有 nil 指针的接口）视为空流水线
		if generic.IsNil(s) {
			continue
		}
		flat = append(flat, s.flatten()...)
	}

	for idx := 1; idx < len(flat); idx++ {
		if checkAssignable(flat[idx-1].outputType, flat[idx].inputType) == assignableNo {
			return nil, &CompositionError{
				Position: idx,
				From:     flat[idx-1].outputType,
				To:       flat[idx].inputType,
			}
		}
	}

	phases := make([]Phase, len(flat))
	prev := PhaseIdle
	for idx, st := range flat {
		prev = phaseOf(st.meta.component, prev)
		phases[idx] = prev
	}

	return &Pipeline{stages: flat, phases: phases}, nil
}

// MustCompose 同 Compose，类型不匹配时 panic。适用于包级变量等静态组合。
func MustCompose(stages ...AnyStage) *Pipeline {
	p, err := Compose(stages...)
	if err != nil {
		panic(err)
	}

	return p
}

// Then 返回在末尾追加阶段后的新流水线，原流水线不变。
// p.Then(b).Then(c) 与 p.Then(b, c) 等价。
func (p *Pipeline) Then(stages ...AnyStage) (*Pipeline, error) {
	return Compose(append([]AnyStage{p}, stages...)...)
}

// Len 展平后的阶段数。
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// InputType 流水线的输入类型，空流水线为 any。
func (p *Pipeline) InputType() reflect.Type {
	if len(p.stages) == 0 {
		return generic.TypeOf[any]()
	}
	return p.stages[0].inputType
}

// OutputType 流水线的输出类型，空流水线为 any。
func (p *Pipeline) OutputType() reflect.Type {
	if len(p.stages) == 0 {
		return generic.TypeOf[any]()
	}
	return p.stages[len(p.stages)-1].outputType
}

// StageNames 按顺序返回各阶段名称。
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for idx, st := range p.stages {
		names[idx] = st.meta.name
	}
	return names
}

type assignableType uint8

const (
	assignableNo assignableType = iota
	assignableYes
	// assignableMaybe 上游是接口类型，取决于运行时的具体值。
	assignableMaybe
)

func checkAssignable(from, to reflect.Type) assignableType {
	if from == nil || to == nil {
		return assignableMaybe
	}
	if from.AssignableTo(to) {
		return assignableYes
	}
	if from.Kind() == reflect.Interface && to.Implements(from) {
		return assignableMaybe
	}
	if from.Kind() == reflect.Interface && to.Kind() == reflect.Interface {
		return assignableMaybe
	}

	return assignableNo
}

// valueAssignable 运行时检查值能否作为 to 类型的输入。nil 只能传给接口、指针、切片、映射等可为 nil 的类型。
func valueAssignable(v any, to reflect.Type) bool {
	if v == nil {
		switch to.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return true
		default:
			return false
		}
	}

	return reflect.TypeOf(v).AssignableTo(to)
}
