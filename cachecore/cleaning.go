package cachecore

// CleaningMode selects which entries Backend.Clean removes.
type CleaningMode string

const (
	CleanAll            CleaningMode = "all"
	CleanOld            CleaningMode = "old"
	CleanMatchingTag    CleaningMode = "matchingTag"
	CleanNotMatchingTag CleaningMode = "notMatchingTag"
	CleanMatchingAnyTag CleaningMode = "matchingAnyTag"
)

// Valid reports whether m is one of the known cleaning modes.
func (m CleaningMode) Valid() bool {
	switch m {
	case CleanAll, CleanOld, CleanMatchingTag, CleanNotMatchingTag, CleanMatchingAnyTag:
		return true
	}
	return false
}

// IsTagMode reports whether m selects entries by tag.
func (m CleaningMode) IsTagMode() bool {
	return m == CleanMatchingTag || m == CleanNotMatchingTag || m == CleanMatchingAnyTag
}

// MatchTags reports whether an entry carrying entryTags is selected by a tag
// cleaning mode:
//   - CleanMatchingTag: the entry carries every tag in tags
//   - CleanNotMatchingTag: the entry carries none of tags
//   - CleanMatchingAnyTag: the entry carries at least one of tags
//
// CleanAll always matches; CleanOld never does since it is decided by expiry.
func MatchTags(mode CleaningMode, entryTags, tags []string) bool {
	switch mode {
	case CleanAll:
		return true
	case CleanMatchingTag:
		if len(tags) == 0 {
			return false
		}
		for _, tag := range tags {
			if !containsTag(entryTags, tag) {
				return false
			}
		}
		return true
	case CleanNotMatchingTag:
		for _, tag := range tags {
			if containsTag(entryTags, tag) {
				return false
			}
		}
		return true
	case CleanMatchingAnyTag:
		for _, tag := range tags {
			if containsTag(entryTags, tag) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
