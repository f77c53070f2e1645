package commandstructure

import (
	"bytes"
	"errors"
	"sync"
)

// stageCommand stands in for an image stage: it tags the data with its name and
// remembers how often it ran so tests can assert on chain order and short-circuiting
type stageCommand struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *stageCommand) Name() string {
	return s.name
}

func (s *stageCommand) Execute(imageData []byte) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append(bytes.Clone(imageData), []byte("|"+s.name)...), nil
}

func (s *stageCommand) runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stageRegistry registers the stage names of the intake chain with factories that honour a "fail" param
func stageRegistry(names ...string) (*CommandRegistry, error) {
	registry := NewCommandRegistry()
	for _, name := range names {
		name := name
		err := registry.Register(name, func(params map[string]any) (Command, error) {
			stage := &stageCommand{name: name}
			if reason := GetStringParam(params, "fail", ""); reason != "" {
				stage.err = errors.New(reason)
			}
			return stage, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return registry, nil
}
