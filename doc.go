// Package ocidist provides a content-addressed client for the OCI
// Distribution protocol: pulling and pushing images to and from registries
// through a local OCI Image Layout store, with resumable transfers,
// per-descriptor single-flight deduplication, and garbage collection.
//
// # Basic usage
//
//	store, err := ocidist.OpenLayout("/var/lib/ocidist/layout")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := ocidist.NewClient()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	desc, err := client.Pull(ctx, store, "ghcr.io/org/repo:v1")
//
//	desc, err = client.Push(ctx, store, "ghcr.io/org/repo:v1")
//
// # Authentication
//
// By default, credentials are resolved from OCIDIST_REGISTRY_USERNAME and
// OCIDIST_REGISTRY_PASSWORD, then Docker config (~/.docker/config.json) and
// credential helpers, then ocidist's own credentials.json. Override with
// WithCredentials or WithCredentialStore.
//
// # Garbage collection
//
// A Layout accumulates blobs referenced only transiently (aborted pulls,
// replaced tags). Call store.GC to reclaim unreferenced blobs; GC refuses
// to run while a push is in flight.
package ocidist
