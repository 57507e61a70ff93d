package dataset

import (
	"errors"
	"fmt"
	"sort"

	"rsgnet/internal/model"
)

var (
	ErrEmptyStore = errors.New("empty trial store")
	ErrOutOfRange = errors.New("index out of range")
)

// Store concatenates one or more task collections behind a single index
// space. Item i belongs to the first task whose cumulative count is strictly
// greater than i.
type Store struct {
	tasks      [][]model.Trial
	cumulative []int
}

func NewStore(tasks ...[]model.Trial) (*Store, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyStore
	}
	s := &Store{
		tasks:      make([][]model.Trial, len(tasks)),
		cumulative: make([]int, len(tasks)),
	}
	total := 0
	for i, trials := range tasks {
		for j, trial := range trials {
			if err := trial.Validate(); err != nil {
				return nil, fmt.Errorf("task %d trial %d: %w", i, j, err)
			}
		}
		s.tasks[i] = trials
		total += len(trials)
		s.cumulative[i] = total
	}
	if total == 0 {
		return nil, ErrEmptyStore
	}
	return s, nil
}

func (s *Store) Len() int {
	return s.cumulative[len(s.cumulative)-1]
}

// Contexts is the number of tasks and so the width of the context one-hot.
func (s *Store) Contexts() int {
	return len(s.tasks)
}

// Locate maps a global index to its task and the index within that task.
func (s *Store) Locate(i int) (int, int, error) {
	if i < 0 || i >= s.Len() {
		return 0, 0, fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, i, s.Len())
	}
	task := sort.Search(len(s.cumulative), func(k int) bool { return s.cumulative[k] > i })
	local := i
	if task > 0 {
		local = i - s.cumulative[task-1]
	}
	return task, local, nil
}

// Item returns a copy of trial i with the task's context one-hot appended to
// every input vector. The returned trial's Task field is the task index.
func (s *Store) Item(i int) (model.Trial, error) {
	task, local, err := s.Locate(i)
	if err != nil {
		return model.Trial{}, err
	}
	trial := s.tasks[task][local].Clone()
	trial.Task = task
	width := len(s.tasks)
	for t, x := range trial.Input {
		row := make([]float64, len(x)+width)
		copy(row, x)
		row[len(x)+task] = 1
		trial.Input[t] = row
	}
	return trial, nil
}

// Items resolves several indices at once.
func (s *Store) Items(indices []int) ([]model.Trial, error) {
	out := make([]model.Trial, 0, len(indices))
	for _, i := range indices {
		trial, err := s.Item(i)
		if err != nil {
			return nil, err
		}
		out = append(out, trial)
	}
	return out, nil
}

// InputDim is the width of an Item input, context included.
func (s *Store) InputDim() int {
	for _, trials := range s.tasks {
		if len(trials) > 0 && len(trials[0].Input) > 0 {
			return len(trials[0].Input[0]) + len(s.tasks)
		}
	}
	return len(s.tasks)
}

// OutputDim is the width of a target vector.
func (s *Store) OutputDim() int {
	for _, trials := range s.tasks {
		if len(trials) > 0 && len(trials[0].Target) > 0 {
			return len(trials[0].Target[0])
		}
	}
	return 0
}
