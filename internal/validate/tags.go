// Package validate checks user-supplied tags and structured form fields.
package validate

import (
	"regexp"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

var (
	tagKeyPattern   = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)
	tagValuePattern = regexp.MustCompile(`^[A-Za-z0-9 _.\-]{1,64}$`)
)

// UserKeyPrefix is prepended to user keys that collide with reserved keys.
const UserKeyPrefix = "user-"

// DefaultMaxTags is the tag cardinality limit.
const DefaultMaxTags = 25

// DefaultReservedKeys are written by the system and never taken from users.
var DefaultReservedKeys = []string{
	"submission-id",
	"source-form",
	"submitted-by",
	"submitted-at",
	"scan-status",
	"scan-provider",
	"scan-requested-at",
	"scan-completed-at",
	"document-type",
	"archive-digest",
	"quarantined",
}

// ReservedKeys is an immutable set of reserved tag keys.
type ReservedKeys struct {
	keys map[string]struct{}
}

// NewReservedKeys copies keys into a new set.
func NewReservedKeys(keys []string) ReservedKeys {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return ReservedKeys{keys: set}
}

func (r ReservedKeys) Contains(key string) bool {
	_, ok := r.keys[key]
	return ok
}

// TagValidator validates user tags and merges them with system tags.
type TagValidator struct {
	reserved ReservedKeys
	maxTags  int
}

func NewTagValidator(reserved ReservedKeys, maxTags int) *TagValidator {
	if maxTags <= 0 {
		maxTags = DefaultMaxTags
	}
	return &TagValidator{reserved: reserved, maxTags: maxTags}
}

// Effective validates user tags and returns the merged tag set.
// System tags always win. A user key colliding with a reserved key is kept
// under UserKeyPrefix+key; if the user also sent that renamed key the
// submission is rejected. Every problem found is reported.
func (v *TagValidator) Effective(user, system map[string]string, required []string) (map[string]string, Errors) {
	var errs Errors

	if len(user) > v.maxTags {
		errs.Add("tags", "too many tags: %d exceeds the maximum of %d", len(user), v.maxTags)
	}

	out := make(map[string]string, len(user)+len(system))
	for _, k := range models.SortedKeys(user) {
		val := user[k]
		field := "tags." + k

		if !tagKeyPattern.MatchString(k) {
			errs.Add(field, "invalid tag key: use 1-32 characters from a-z, 0-9 and '-'")
			continue
		}
		if !tagValuePattern.MatchString(val) {
			errs.Add(field, "invalid tag value: use 1-64 characters from letters, digits, space, '_', '.' and '-'")
			continue
		}

		key := k
		if v.reserved.Contains(k) {
			key = UserKeyPrefix + k
			if _, dup := user[key]; dup {
				errs.Add(field, "reserved key %q collides with user key %q", k, key)
				continue
			}
		}
		out[key] = val
	}

	for _, k := range required {
		if _, ok := user[k]; !ok {
			errs.Add("tags."+k, "required tag is missing")
		}
	}

	for k, val := range system {
		out[k] = val
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}
