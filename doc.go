// The [realm] package is a client for app services with partition-based sync.
//
// # Apps and Users
//
// An [App] is created with [NewApp] from an [AppConfig]. It discovers the RPC
// endpoint of the application over HTTP, and then logs users in with
// [Credentials] such as [EmailPassword], [Anonymous] or [ServerAPIKey].
//
// Every [User] owns one WebSocket connection. Access tokens are refreshed
// transparently when the backend rejects them.
//
// # Connection Engines
//
// Two WebSocket engines are available, gorilla/websocket and gws. Select one with
// [AppConfig].Engine or the REALM_CONNECTION_IMPL environment variable.
//
// # Realms
//
// A [Realm] is a local object store synced with one partition. Open it with
// [Open], which returns immediately with the local state, or with [AsyncOpen],
// which waits for the server state first.
//
// Objects are plain structs tagged for CBOR, with the primary key in the "_id"
// field:
//
//	type Task struct {
//		ID     models.ObjectID `cbor:"_id"`
//		Name   string          `cbor:"name"`
//		Status string          `cbor:"status"`
//	}
//
// All changes happen inside [Realm.Write]. Committed changes are uploaded in the
// background; [Realm.WaitForUpload] blocks until they reached the server.
//
// # Queries and Notifications
//
// [Objects] returns live [Results], narrowed with [Results.Where] and predicates
// built from [Field]. [Results.Observe] delivers a [CollectionChange] with the
// indices of deleted, inserted and modified objects after every commit that
// changed the results, local or remote.
//
// # Remote Collections
//
// [User.MongoClient] gives direct access to backend collections, including
// change streams through [MongoCollection.Watch].
//
// # Examples
//
// The [github.com/takameyer/realm.go/example/quickstart] package walks through
// the complete flow. [github.com/takameyer/realm.go/contrib/testenv] starts an
// in-process backend for tests.
package realm
