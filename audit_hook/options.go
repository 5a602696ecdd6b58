package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used to report recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEnabledActions restricts auditing to the given actions. Without it
// every action is audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) { e.only = addAll(e.only, actions) }
}

// WithDisabledActions skips the given actions. It wins over
// WithEnabledActions.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) { e.skip = addAll(e.skip, actions) }
}

// WithCategories restricts auditing to events of the given categories,
// such as CategoryBilling or CategoryVault.
func WithCategories(categories ...string) Option {
	return func(e *Extension) { e.categories = addAll(e.categories, categories) }
}

func addAll(set map[string]bool, keys []string) map[string]bool {
	if set == nil {
		set = make(map[string]bool, len(keys))
	}
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// audits reports whether an event passes the configured filters.
func (e *Extension) audits(action, category string) bool {
	switch {
	case e.skip[action]:
		return false
	case e.only != nil && !e.only[action]:
		return false
	case e.categories != nil && !e.categories[category]:
		return false
	}
	return true
}
