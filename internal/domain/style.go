package domain

// StyleOverride is a per-sender display preference. Empty fields mean "use
// the default".
type StyleOverride struct {
	SenderID    string `json:"senderId"`
	BubbleColor string `json:"bubbleColor,omitempty"`
	Font        string `json:"font,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine.
func (s *StyleOverride) Clone() *StyleOverride {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
