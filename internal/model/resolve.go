package model

// DisplayName resolves a human-readable name for a sender using the fixed
// fallback chain: explicit name, then pushname, then number, then raw id.
func (s *Sender) DisplayName() string {
	if s == nil {
		return ""
	}
	for _, candidate := range []string{s.Name, s.Pushname, s.Number, s.ID} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// DisplayName resolves the session owner's name with the same fallback chain.
func (u *UserInfo) DisplayName() string {
	if u == nil {
		return ""
	}
	for _, candidate := range []string{u.Name, u.Pushname, u.Number} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
