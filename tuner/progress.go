package tuner

import (
	"fmt"
	"time"

	"github.com/theckman/yacspin"
)

// Progress reports evaluations as they happen
type Progress interface {
	Start(profile string, budget int)
	Step(call int, gains string, score, best float64)
	Stop(ok bool)
}

// NopProgress discards everything
type NopProgress struct{}

// Start implements Progress
func (NopProgress) Start(string, int) {}

// Step implements Progress
func (NopProgress) Step(int, string, float64, float64) {}

// Stop implements Progress
func (NopProgress) Stop(bool) {}

// Spinner is a terminal spinner
type Spinner struct {
	spin    *yacspin.Spinner
	profile string
	budget  int
}

// NewSpinner creates a spinner; it errors if the terminal cannot host one
func NewSpinner() (*Spinner, error) {
	spin, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, err
	}
	return &Spinner{spin: spin}, nil
}

// Start implements Progress
func (s *Spinner) Start(profile string, budget int) {
	s.profile, s.budget = profile, budget
	s.spin.Message(fmt.Sprintf("Optimizing %s: 0/%d", profile, budget))
	s.spin.StopMessage(fmt.Sprintf("Optimized %s", profile))
	s.spin.StopFailMessage(fmt.Sprintf("Stopped %s", profile))
	_ = s.spin.Start()
}

// Step implements Progress
func (s *Spinner) Step(call int, gains string, score, best float64) {
	s.spin.Message(fmt.Sprintf("Optimizing %s: %d/%d %s score=%.4f best=%.4f",
		s.profile, call, s.budget, gains, score, best))
}

// Stop implements Progress
func (s *Spinner) Stop(ok bool) {
	if ok {
		_ = s.spin.Stop()
		return
	}
	_ = s.spin.StopFail()
}
