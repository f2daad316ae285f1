package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FormB_CollapsesToFormA(t *testing.T) {
	t.Parallel()

	in := "localhost:5000/library/registry:2.8.3@sha256:1b640322f9a983281970daaeba1a6d303f399d67890644389ff419d951963e20"
	ref, err := Parse(in)
	require.NoError(t, err)

	assert.Equal(t, "localhost:5000", ref.Registry)
	assert.Equal(t, "library/registry", ref.Repository)
	assert.Equal(t, "sha256:1b640322f9a983281970daaeba1a6d303f399d67890644389ff419d951963e20", ref.Reference)

	want := "localhost:5000/library/registry@sha256:1b640322f9a983281970daaeba1a6d303f399d67890644389ff419d951963e20"
	assert.Equal(t, want, ref.String())
}

func TestParse_FormC_Tag(t *testing.T) {
	t.Parallel()

	ref, err := Parse("registry.example.com/app:v1")
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com", ref.Registry)
	assert.Equal(t, "app", ref.Repository)
	assert.Equal(t, "v1", ref.Reference)
	assert.Equal(t, "registry.example.com/app:v1", ref.String())
	assert.False(t, ref.IsDigest())
}

func TestParse_FormD_NoReference(t *testing.T) {
	t.Parallel()

	ref, err := Parse("registry.example.com/app")
	require.NoError(t, err)
	assert.Equal(t, "", ref.Reference)
	assert.Equal(t, "registry.example.com/app", ref.String())
}

func TestParse_FormA_Digest(t *testing.T) {
	t.Parallel()

	digest := "sha256:a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab149"
	in := "registry.example.com/app@" + digest
	ref, err := Parse(in)
	require.NoError(t, err)
	assert.Equal(t, in, ref.String())
	assert.True(t, ref.IsDigest())

	got, err := ref.Digest()
	require.NoError(t, err)
	assert.Equal(t, Digest(digest), got)
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"registry.example.com/app:v1",
		"registry.example.com/app",
		"registry.example.com/app@sha256:a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab149",
		"localhost:5000/library/registry:2.8.3",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			ref, err := Parse(in)
			require.NoError(t, err)
			assert.Equal(t, in, ref.String())
		})
	}
}

func TestParse_RejectsUppercaseRepository(t *testing.T) {
	t.Parallel()

	_, err := Parse("registry.example.com/App:v1")
	var repoErr *InvalidRepositoryError
	require.ErrorAs(t, err, &repoErr)
}

func TestParse_RejectsLeadingColon(t *testing.T) {
	t.Parallel()

	_, err := Parse(":tag")
	var registryErr *InvalidRegistryError
	require.ErrorAs(t, err, &registryErr)
}

func TestParse_RejectsMissingSlash(t *testing.T) {
	t.Parallel()

	_, err := Parse("justahost")
	var registryErr *InvalidRegistryError
	require.ErrorAs(t, err, &registryErr)
}

func TestParse_RejectsEmptyRepository(t *testing.T) {
	t.Parallel()

	_, err := Parse("registry.example.com/")
	var repoErr *InvalidRepositoryError
	require.ErrorAs(t, err, &repoErr)
}

func TestParse_RejectsInvalidTag(t *testing.T) {
	t.Parallel()

	_, err := Parse("registry.example.com/app:not a valid tag")
	var tagErr *InvalidTagError
	require.ErrorAs(t, err, &tagErr)
}

func TestParse_AcceptsPortedRegistry(t *testing.T) {
	t.Parallel()

	ref, err := Parse("localhost:5000/app:v1")
	require.NoError(t, err)
	assert.Equal(t, "localhost:5000", ref.Registry)
}
