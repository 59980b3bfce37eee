package unit

import (
	"fmt"
	"regexp"

	"github.com/containerd/errdefs"
)

// Unit names are adapted from containerd's pkg/identifiers character
// class (alphanumeric, with "." "_" "-" as internal separators): a
// good fit here too, since unit stems and template instances end up as
// filesystem path components (drop-in directories, cgroup paths,
// socket paths) the same way containerd identifiers do.
const (
	maxNameLength = 255
	nameAlphanum  = `[A-Za-z0-9]+`
	nameSep       = `[._-]`
)

var nameRe = regexp.MustCompile(`^` + nameAlphanum + `(?:` + nameSep + nameAlphanum + `)*$`)

// validateSegment checks one stem or instance string against the
// identifier character class. Empty is rejected; callers that allow an
// empty instance (a bare template, "foo@.service") check that case
// before calling this.
func validateSegment(kind, s string) error {
	if len(s) == 0 {
		return fmt.Errorf("%s must not be empty: %w", kind, errdefs.ErrInvalidArgument)
	}
	if len(s) > maxNameLength {
		return fmt.Errorf("%s %q exceeds maximum length (%d): %w", kind, s, maxNameLength, errdefs.ErrInvalidArgument)
	}
	if !nameRe.MatchString(s) {
		return fmt.Errorf("%s %q must match %v: %w", kind, s, nameRe, errdefs.ErrInvalidArgument)
	}
	return nil
}

// ValidateName checks a full unit name's stem (and instance, for
// template instantiations) before it is ever used to build a path,
// cgroup name, or socket address.
func ValidateName(name string) error {
	stem, instance, kindStr := splitInstanceName(name)
	if kindStr == "" {
		return fmt.Errorf("unit name %q has no kind suffix: %w", name, errdefs.ErrInvalidArgument)
	}
	stem = trimAt(stem)
	if err := validateSegment("unit stem", stem); err != nil {
		return err
	}
	if instance != "" {
		if err := validateSegment("unit instance", instance); err != nil {
			return err
		}
	}
	return nil
}

func trimAt(stem string) string {
	if len(stem) > 0 && stem[len(stem)-1] == '@' {
		return stem[:len(stem)-1]
	}
	return stem
}
