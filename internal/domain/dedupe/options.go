package dedupe

// Option applies a configuration option to the Set.
type Option func(*Set)

// WithNormalizer canonicalizes keys before they are compared, for example
// lowercasing addresses.
func WithNormalizer(fn func(string) string) Option {
	return func(s *Set) {
		if fn != nil {
			s.normalize = fn
		}
	}
}
