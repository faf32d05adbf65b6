package profile

// Resolve applies the precedence policy shared by login, refresh, and
// profile updates: the remote record wins over freshly gathered platform
// data, which wins over the cached copy. The cache is consulted only when
// both higher-precedence sources left a field absent; it never overrides
// a value the remote store returned.
//
// The identifier is taken from the highest-precedence source that has one;
// callers are expected to have discarded a cache whose id does not match
// the active platform identity before resolving.
func Resolve(remote, gathered, cached *UserProfile) *UserProfile {
	resolved := &UserProfile{}
	for _, source := range []*UserProfile{cached, gathered, remote} {
		if source == nil {
			continue
		}
		if source.ID != "" {
			resolved.ID = source.ID
		}
		if source.Name != nil {
			resolved.Name = cloneField(source.Name)
		}
		if source.Avatar != nil {
			resolved.Avatar = cloneField(source.Avatar)
		}
		if source.Phone != nil {
			resolved.Phone = cloneField(source.Phone)
		}
		if source.Email != nil {
			resolved.Email = cloneField(source.Email)
		}
		if source.LastLogin != "" {
			resolved.LastLogin = source.LastLogin
		}
	}
	return resolved
}
