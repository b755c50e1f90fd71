package accounts

import (
	"fmt"
	"os"
	"sync"
)

type Outcome int

const (
	Completed Outcome = iota
	Uncompleted
)

func (o Outcome) String() string {
	if o == Completed {
		return "completed"
	}
	return "uncompleted"
}

// Recorder appends the key line of each finished account to the file matching its outcome.
type Recorder struct {
	mu    sync.Mutex
	paths map[Outcome]string
}

func NewRecorder(completedPath, uncompletedPath string) (*Recorder, error) {
	var err error
	if completedPath, err = ExpandHome(completedPath); err != nil {
		return nil, err
	}
	if uncompletedPath, err = ExpandHome(uncompletedPath); err != nil {
		return nil, err
	}
	return &Recorder{paths: map[Outcome]string{
		Completed:   completedPath,
		Uncompleted: uncompletedPath,
	}}, nil
}

func (r *Recorder) Record(acct Account, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.paths[outcome]
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s log: %w", outcome, err)
	}
	if _, err := fmt.Fprintln(f, acct.Line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s log: %w", outcome, err)
	}
	return f.Close()
}
