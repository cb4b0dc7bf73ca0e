package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// 事件常量
const (
	EventStart = "start"
	EventEnd   = "end"
)

// ErrTripStateConflict 在当前行程状态下不允许该操作
var ErrTripStateConflict = errors.New("trip state conflict")

// TripState 行程状态快照
type TripState struct {
	TripID       uuid.UUID `json:"trip_id"`
	CurrentState string    `json:"state"`
	Since        time.Time `json:"since"`
}

// Machine 行程生命周期状态机 idle -> active -> ended
type Machine struct {
	mu            sync.RWMutex
	tripID        uuid.UUID
	fsm           *fsm.FSM
	since         time.Time
	onStateChange func(tripID uuid.UUID, from, to string)
}

// NewMachine 创建状态机
func NewMachine(tripID uuid.UUID, initialState string, onStateChange func(tripID uuid.UUID, from, to string)) *Machine {
	if initialState == "" {
		initialState = models.TripIdle
	}

	m := &Machine{
		tripID:        tripID,
		since:         time.Now(),
		onStateChange: onStateChange,
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventStart, Src: []string{models.TripIdle}, Dst: models.TripActive},
			// ended 为终态
			{Name: EventEnd, Src: []string{models.TripActive}, Dst: models.TripEnded},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.tripID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// TripID 行程 ID
func (m *Machine) TripID() uuid.UUID {
	return m.tripID
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Is 是否处于指定状态
func (m *Machine) Is(state string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Is(state)
}

// GetState 获取状态快照
func (m *Machine) GetState() TripState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TripState{
		TripID:       m.tripID,
		CurrentState: m.fsm.Current(),
		Since:        m.since,
	}
}

// Trigger 触发事件，非法转换返回 ErrTripStateConflict
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fsm.Can(event) {
		return fmt.Errorf("%w: cannot %s trip %s in state %s", ErrTripStateConflict, event, m.tripID, m.fsm.Current())
	}
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// maxEndedTrips 记住的已结束行程数量上限
const maxEndedTrips = 64

// Manager 行程状态机管理器，同一时刻最多一个活动行程
type Manager struct {
	mu       sync.RWMutex
	active   *Machine
	ended    map[uuid.UUID]struct{}
	order    []uuid.UUID
	onChange func(tripID uuid.UUID, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(tripID uuid.UUID, from, to string)) *Manager {
	return &Manager{
		ended:    make(map[uuid.UUID]struct{}),
		onChange: onChange,
	}
}

// Begin 开启行程；已有活动行程时返回冲突
func (m *Manager) Begin(tripID uuid.UUID) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("%w: trip %s already active", ErrTripStateConflict, m.active.TripID())
	}
	if _, ok := m.ended[tripID]; ok {
		return nil, fmt.Errorf("%w: trip %s already ended", ErrTripStateConflict, tripID)
	}

	machine := NewMachine(tripID, models.TripIdle, m.onChange)
	if err := machine.Trigger(EventStart); err != nil {
		return nil, err
	}
	m.active = machine
	return machine, nil
}

// Resume 恢复进程中断前的活动行程
func (m *Manager) Resume(tripID uuid.UUID) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("%w: trip %s already active", ErrTripStateConflict, m.active.TripID())
	}

	m.active = NewMachine(tripID, models.TripActive, m.onChange)
	return m.active, nil
}

// Finish 结束行程；行程未激活或已结束时返回冲突
func (m *Manager) Finish(tripID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.TripID() != tripID {
		if _, ok := m.ended[tripID]; ok {
			return fmt.Errorf("%w: trip %s already ended", ErrTripStateConflict, tripID)
		}
		return fmt.Errorf("%w: trip %s is not active", ErrTripStateConflict, tripID)
	}

	if err := m.active.Trigger(EventEnd); err != nil {
		return err
	}

	m.rememberEnded(tripID)
	m.active = nil
	return nil
}

// Active 当前活动行程
func (m *Manager) Active() (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, m.active != nil
}

// IsEnded 行程是否最近已结束
func (m *Manager) IsEnded(tripID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ended[tripID]
	return ok
}

func (m *Manager) rememberEnded(tripID uuid.UUID) {
	m.ended[tripID] = struct{}{}
	m.order = append(m.order, tripID)
	if len(m.order) > maxEndedTrips {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.ended, oldest)
	}
}
