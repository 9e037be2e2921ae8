package command

// Feedback delivers text to a caller. to is the caller's display name.
type Feedback func(text, to string)

// Source is the caller of a dispatch: a display name, a permission level and
// a feedback sink.
type Source struct {
	DisplayName string
	Permission  int
	Feedback    Feedback
}

// NewSource returns a source. A nil feedback discards all text.
func NewSource(displayName string, permission int, feedback Feedback) *Source {
	return &Source{DisplayName: displayName, Permission: permission, Feedback: feedback}
}

// HasPermission reports whether the source may use something requiring
// level. Negative levels are never satisfiable.
func (s *Source) HasPermission(level int) bool {
	return 0 <= level && level <= s.Permission
}

// SendFeedback hands text to the feedback sink, addressed to the source.
func (s *Source) SendFeedback(text string) {
	if s.Feedback != nil {
		s.Feedback(text, s.DisplayName)
	}
}

func (s *Source) String() string { return s.DisplayName }

// Context is the immutable per-invocation value handed to a command.
type Context struct {
	working string
	source  *Source
}

// NewContext captures the working string and its source. A nil source is
// replaced by a silent, level 0 source.
func NewContext(working string, src *Source) *Context {
	if src == nil {
		src = &Source{}
	}
	return &Context{working: working, source: src}
}

// WorkingString returns the input as received, before prefix stripping.
func (c *Context) WorkingString() string { return c.working }

// Source returns the caller.
func (c *Context) Source() *Source { return c.source }
