// Loop configuration types.
//
// Information Hiding:
// - Default values hidden

package agent

// DefaultMaxIterations bounds a loop when no cap is configured.
const DefaultMaxIterations = 10

// Config holds loop configuration.
type Config struct {
	// Name labels the loop in logs.
	Name string

	// MaxIterations caps the number of model rounds.
	MaxIterations int

	// SystemInstruction is used when a Session carries none.
	SystemInstruction string
}

// DefaultConfig returns a basic loop configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "loop",
		MaxIterations: DefaultMaxIterations,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "loop"
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	return c
}
