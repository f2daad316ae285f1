package core

import (
	"net/url"
	"regexp"
	"strings"
)

// tagPattern matches valid tag names: \w[\w.-]{0,127}
var tagPattern = regexp.MustCompile(`^\w[\w.-]{0,127}$`)

// repositoryPattern matches OCI repository names.
var repositoryPattern = regexp.MustCompile(
	`^[a-z0-9]+(?:(?:[._]|__|-*)[a-z0-9]+)*(?:/[a-z0-9]+(?:(?:[._]|__|-*)[a-z0-9]+)*)*$`,
)

// Reference identifies an artifact within a registry: registry/repository,
// qualified by an empty reference, a tag, or a digest.
type Reference struct {
	Registry   string
	Repository string
	// Reference is empty, a tag, or a digest string.
	Reference string
}

// Parse parses s into a Reference following the registry/repository[:tag|@digest]
// grammar. Form B (tag+digest) collapses to Form A: the tag is discarded.
func Parse(s string) (Reference, error) {
	registry, rest, ok := strings.Cut(s, "/")
	if !ok {
		return Reference{}, &InvalidRegistryError{Value: s, Reason: "missing '/' separating registry from repository"}
	}
	if registry == "" {
		return Reference{}, &InvalidRegistryError{Value: s, Reason: "empty registry"}
	}
	if rest == "" {
		return Reference{}, &InvalidRepositoryError{Value: s, Reason: "empty repository"}
	}

	if err := validateRegistry(registry); err != nil {
		return Reference{}, err
	}

	var repository, ref string
	if repo, digestStr, ok := strings.Cut(rest, "@"); ok {
		// Form B: repo[:tag]@digest collapses to Form A (repo@digest).
		repository, _, _ = strings.Cut(repo, ":")
		ref = digestStr
	} else if repo, tag, ok := strings.Cut(rest, ":"); ok {
		repository = repo
		ref = tag
	} else {
		repository = rest
		ref = ""
	}

	if !repositoryPattern.MatchString(repository) {
		return Reference{}, &InvalidRepositoryError{Value: repository, Reason: "does not match repository grammar"}
	}

	if ref != "" && !tagPattern.MatchString(ref) {
		if _, err := ParseDigest(ref); err != nil {
			return Reference{}, &InvalidTagError{Value: ref, Reason: "neither a valid tag nor a valid digest"}
		}
	}

	return Reference{Registry: registry, Repository: repository, Reference: ref}, nil
}

// validateRegistry checks that registry is a valid "host[:port]" by
// round-tripping it through URL parsing.
func validateRegistry(registry string) error {
	u, err := url.Parse("oci://" + registry)
	if err != nil {
		return &InvalidRegistryError{Value: registry, Reason: err.Error()}
	}
	if u.Host != registry || u.Host == "" {
		return &InvalidRegistryError{Value: registry, Reason: "not a valid host[:port]"}
	}
	return nil
}

// IsDigest reports whether the reference portion is a digest rather than a
// tag or empty.
func (r Reference) IsDigest() bool {
	_, err := ParseDigest(r.Reference)
	return err == nil
}

// Digest returns the reference's digest, if it is one.
func (r Reference) Digest() (Digest, error) {
	return ParseDigest(r.Reference)
}

// String renders the reference in its canonical text form: Form A when the
// reference is a digest, Form C when it's a tag, Form D when empty.
func (r Reference) String() string {
	var b strings.Builder
	b.WriteString(r.Registry)
	b.WriteByte('/')
	b.WriteString(r.Repository)
	if r.Reference == "" {
		return b.String()
	}
	if r.IsDigest() {
		b.WriteByte('@')
	} else {
		b.WriteByte(':')
	}
	b.WriteString(r.Reference)
	return b.String()
}
