// Package contrib holds helpers that extend the realm SDK outside of its core API.
//
// [github.com/takameyer/realm.go/contrib/testenv] starts an in-process backend
// and an App connected to it, for tests and runnable examples.
//
// Packages under contrib are not covered by the SDK's compatibility guarantee.
package contrib
