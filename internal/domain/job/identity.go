package job

import (
	"fmt"
	"strings"
)

// Identity names a job: source path, platform and job key. Source is compared
// case-sensitively; platform and job key are stored lower-cased so that plain
// equality is case-insensitive for them.
type Identity struct {
	Source   string
	Platform string
	JobKey   string
}

// NewIdentity builds a normalized identity.
func NewIdentity(source, platform, jobKey string) Identity {
	return Identity{
		Source:   source,
		Platform: strings.ToLower(platform),
		JobKey:   strings.ToLower(jobKey),
	}
}

// Key returns a string usable as an index key.
func (id Identity) Key() string {
	return id.Source + "\x00" + id.Platform + "\x00" + id.JobKey
}

func (id Identity) String() string {
	return fmt.Sprintf("%s [%s/%s]", id.Source, id.Platform, id.JobKey)
}
