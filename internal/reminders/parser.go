package reminders

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sho0pi/naturaltime"
)

// ErrUnparseableTime is returned when input is neither a duration nor a date
var ErrUnparseableTime = errors.New("could not parse time")

// Parser turns user input like "in 2 hours" or "90m" into an absolute time
type Parser struct {
	natural *naturaltime.Parser
	mu      sync.Mutex
}

// NewParser creates a Parser
func NewParser() (*Parser, error) {
	natural, err := naturaltime.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create natural time parser: %w", err)
	}
	return &Parser{natural: natural}, nil
}

// ParseWhen resolves input relative to now. Plain Go durations ("90m",
// "1h30m") are tried first, then natural language.
func (p *Parser) ParseWhen(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, ErrUnparseableTime
	}

	if d, err := time.ParseDuration(strings.ReplaceAll(input, " ", "")); err == nil && d > 0 {
		return now.Add(d), nil
	}

	// the underlying parser is not safe for concurrent use
	p.mu.Lock()
	result, err := p.natural.ParseDate(input, now)
	p.mu.Unlock()

	if err == nil && result != nil {
		return *result, nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, input)
}
