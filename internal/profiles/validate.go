package profiles

import (
	"fmt"
	"hash/fnv"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

var usernameRegexp = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)

// ValidateUsername checks that a relay username is acceptable. Usernames
// double as direct conversation ids, so they share the profile charset.
func ValidateUsername(username string) error {
	if !usernameRegexp.MatchString(username) {
		return fmt.Errorf("invalid username %q: must match ^[a-z0-9_-]{3,32}$", username)
	}
	return nil
}

// avatarPalette holds the colors assigned to identities without one.
var avatarPalette = []string{
	"#e57373", "#f06292", "#ba68c8", "#9575cd",
	"#7986cb", "#64b5f6", "#4fc3f7", "#4dd0e1",
	"#4db6ac", "#81c784", "#aed581", "#ffb74d",
}

// ColorFor picks a stable avatar color for a name.
func ColorFor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}
