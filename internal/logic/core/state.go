package core

import (
	"fmt"
	"sync"
)

// PaymentState 单次支付尝试的状态
type PaymentState string

const (
	StateQuoteRequested    PaymentState = "QUOTE_REQUESTED"
	StateInstructionsBuilt PaymentState = "INSTRUCTIONS_BUILT"
	StateTxAssembled       PaymentState = "TX_ASSEMBLED"
	StateTxSigned          PaymentState = "TX_SIGNED"
	StateSubmitted         PaymentState = "SUBMITTED"
	StateConfirmed         PaymentState = "CONFIRMED"
	StateVerified          PaymentState = "VERIFIED"
	StateFulfilled         PaymentState = "FULFILLED"

	StateQuoteFailed        PaymentState = "QUOTE_FAILED"
	StateBuildFailed        PaymentState = "BUILD_FAILED"
	StateVerificationFailed PaymentState = "VERIFICATION_FAILED"
)

// forward 正向迁移表
var forward = map[PaymentState]PaymentState{
	StateQuoteRequested:    StateInstructionsBuilt,
	StateInstructionsBuilt: StateTxAssembled,
	StateTxAssembled:       StateTxSigned,
	StateTxSigned:          StateSubmitted,
	StateSubmitted:         StateConfirmed,
	StateConfirmed:         StateVerified,
	StateVerified:          StateFulfilled,
}

func (s PaymentState) IsTerminal() bool {
	switch s {
	case StateFulfilled, StateQuoteFailed, StateBuildFailed, StateVerificationFailed:
		return true
	}
	return false
}

func (s PaymentState) IsFailure() bool {
	switch s {
	case StateQuoteFailed, StateBuildFailed, StateVerificationFailed:
		return true
	}
	return false
}

// CanTransition 判断 from -> to 是否合法。
// 失败终态可从任意非终态进入，FULFILLED 只能由 VERIFIED 进入。
func CanTransition(from, to PaymentState) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsFailure() {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}

// Flow 一次支付尝试的状态机，并发安全
type Flow struct {
	mu      sync.Mutex
	id      string
	state   PaymentState
	history []PaymentState
}

func NewFlow(id string) *Flow {
	return &Flow{
		id:      id,
		state:   StateQuoteRequested,
		history: []PaymentState{StateQuoteRequested},
	}
}

// ResumeFlow 从已知状态恢复（提交与补偿路径不经过构建阶段）
func ResumeFlow(id string, state PaymentState) *Flow {
	return &Flow{id: id, state: state, history: []PaymentState{state}}
}

func (f *Flow) ID() string {
	return f.id
}

func (f *Flow) State() PaymentState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) History() []PaymentState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PaymentState, len(f.history))
	copy(out, f.history)
	return out
}

// Advance 迁移到 to，非法迁移返回 ErrIllegalTransition
func (f *Flow) Advance(to PaymentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !CanTransition(f.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.state, to)
	}
	f.state = to
	f.history = append(f.history, to)
	return nil
}

// Fail 进入失败终态；已处于终态时保持不变
func (f *Flow) Fail(to PaymentState) {
	if !to.IsFailure() {
		return
	}
	_ = f.Advance(to)
}
