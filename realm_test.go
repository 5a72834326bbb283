package realm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	th "github.com/launchdarkly/go-test-helpers/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	realm "github.com/takameyer/realm.go"
	"github.com/takameyer/realm.go/contrib/testenv"
	"github.com/takameyer/realm.go/internal/fakeapp"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
	"github.com/takameyer/realm.go/pkg/models"
)

const waitTimeout = 3 * time.Second

type testTask struct {
	ID     models.ObjectID `cbor:"_id"`
	Name   string          `cbor:"name"`
	Status string          `cbor:"status"`
	Owner  *string         `cbor:"owner,omitempty"`
}

func (testTask) ClassName() string { return "Task" }

type testNote struct {
	ID   models.ObjectID `cbor:"_id"`
	Text string          `cbor:"text"`
}

type RealmTestSuite struct {
	suite.Suite
	env  *testenv.Env
	user *realm.User
}

func TestRealmTestSuite(t *testing.T) {
	suite.Run(t, new(RealmTestSuite))
}

func (s *RealmTestSuite) SetupTest() {
	s.env = testenv.MustNew()
	user, err := s.env.Login(context.Background())
	s.Require().NoError(err)
	s.user = user
}

func (s *RealmTestSuite) TearDownTest() {
	s.env.Close()
}

func (s *RealmTestSuite) open(user *realm.User, partition any) *realm.Realm {
	cfg := user.Configuration(partition).WithSchema(testTask{})
	r, err := realm.Open(context.Background(), cfg)
	s.Require().NoError(err)
	s.Require().NoError(r.WaitForDownload(ctxTimeout(s.T())))
	return r
}

// secondDevice logs the test user in on another App connected to the same backend.
func (s *RealmTestSuite) secondDevice() *realm.User {
	app, err := s.env.NewApp()
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = app.Close(context.Background()) })

	user, err := app.Login(context.Background(), realm.EmailPassword(testenv.Email, testenv.Password))
	s.Require().NoError(err)
	return user
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func (s *RealmTestSuite) TestLogin() {
	s.Equal(s.user, s.env.App.CurrentUser())
	s.Equal(realm.UserStateLoggedIn, s.user.State())
	s.Equal("local-userpass", s.user.Provider())

	token, err := s.user.AccessToken(context.Background())
	s.Require().NoError(err)
	s.NotEmpty(token)

	_, err = s.env.App.Login(context.Background(), realm.EmailPassword(testenv.Email, "wrong password"))
	s.True(realm.IsAppError(err, realm.ErrCodeAuthError), "got %v", err)
	s.Equal(s.user, s.env.App.CurrentUser())
}

func (s *RealmTestSuite) TestLoginSameUserTwiceKeepsOneUser() {
	again, err := s.env.Login(context.Background())
	s.Require().NoError(err)
	s.Same(s.user, again)
	s.Len(s.env.App.AllUsers(), 1)
}

func (s *RealmTestSuite) TestAnonymousLoginIsReused() {
	ctx := context.Background()
	a, err := s.env.App.Login(ctx, realm.Anonymous())
	s.Require().NoError(err)
	b, err := s.env.App.Login(ctx, realm.Anonymous())
	s.Require().NoError(err)
	s.Same(a, b)
	s.Equal(a, s.env.App.CurrentUser())

	s.Require().NoError(s.env.App.SwitchUser(s.user))
	s.Equal(s.user, s.env.App.CurrentUser())
}

func (s *RealmTestSuite) TestServerAPIKeyLogin() {
	u, err := s.env.App.Login(context.Background(), realm.ServerAPIKey(testenv.APIKey))
	s.Require().NoError(err)
	s.Equal("api-key", u.Provider())
	s.Len(s.env.App.AllUsers(), 2)
}

func (s *RealmTestSuite) TestRegisterUser() {
	ctx := context.Background()
	auth := s.env.App.EmailPasswordAuth()
	s.Require().NoError(auth.RegisterUser(ctx, "bob@example.com", "hunter22"))

	err := auth.RegisterUser(ctx, "bob@example.com", "hunter22")
	s.True(realm.IsAppError(err, realm.ErrCodeAccountNameInUse), "got %v", err)

	u, err := s.env.App.Login(ctx, realm.EmailPassword("bob@example.com", "hunter22"))
	s.Require().NoError(err)
	s.NotEqual(s.user.ID(), u.ID())
}

func (s *RealmTestSuite) TestWriteAndQuery() {
	r := s.open(s.user, "write-and-query")
	ctx := context.Background()

	laundry := &testTask{Name: "Do laundry", Status: "Open"}
	err := r.Write(ctx, func(tx *realm.Txn) error {
		if err := tx.Add(laundry); err != nil {
			return err
		}
		return tx.Add(&testTask{Name: "App design", Status: "Open"})
	})
	s.Require().NoError(err)
	s.False(laundry.ID.IsZero(), "Add assigns a primary key")
	s.False(r.IsEmpty())

	tasks := realm.Objects[testTask](r)
	s.Equal(2, tasks.Len())

	startingWithA := tasks.Where(realm.Field("name").BeginsWith("A"))
	s.Equal(1, startingWithA.Len())
	first, err := startingWithA.First()
	s.Require().NoError(err)
	s.Equal("App design", first.Name)

	got, err := realm.ObjectForPrimaryKey[testTask](r, laundry.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("Do laundry", got.Name)

	err = r.Write(ctx, func(tx *realm.Txn) error {
		return realm.Modify(tx, first.ID, func(t *testTask) { t.Status = "InProgress" })
	})
	s.Require().NoError(err)

	inProgress := tasks.Where(realm.Field("status").Equal("InProgress"))
	s.Equal(1, inProgress.Len())
	s.Equal(`Results<Task>(status == "InProgress")`, inProgress.String()[:len(`Results<Task>(status == "InProgress")`)])

	err = r.Write(ctx, func(tx *realm.Txn) error { return tx.Delete(laundry) })
	s.Require().NoError(err)
	s.Equal(1, tasks.Len())

	missing, err := realm.ObjectForPrimaryKey[testTask](r, laundry.ID)
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *RealmTestSuite) TestWriteRollsBack() {
	r := s.open(s.user, "rollback")
	ctx := context.Background()
	boom := errors.New("boom")

	err := r.Write(ctx, func(tx *realm.Txn) error {
		s.Require().NoError(tx.Add(&testTask{Name: "never"}))
		return boom
	})
	s.ErrorIs(err, boom)
	s.True(r.IsEmpty())

	s.Panics(func() {
		_ = r.Write(ctx, func(tx *realm.Txn) error {
			s.Require().NoError(tx.Add(&testTask{Name: "never either"}))
			panic("write failed")
		})
	})
	s.True(r.IsEmpty())

	// The realm still accepts writes.
	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error {
		return tx.Add(&testTask{Name: "after"})
	}))
	s.Equal(1, realm.Objects[testTask](r).Len())
}

func (s *RealmTestSuite) TestTxnOutsideWrite() {
	r := s.open(s.user, "escaped-txn")
	var escaped *realm.Txn
	s.Require().NoError(r.Write(context.Background(), func(tx *realm.Txn) error {
		escaped = tx
		return nil
	}))

	s.ErrorIs(escaped.Add(&testTask{Name: "late"}), constants.ErrNotInWriteTransaction)
	s.ErrorIs(escaped.DeleteAll(), constants.ErrNotInWriteTransaction)
}

func (s *RealmTestSuite) TestDeleteAllIncludesObjectsAddedInSameWrite() {
	cfg := s.user.Configuration("delete-all-staged")
	r, err := realm.AsyncOpen(ctxTimeout(s.T()), cfg)
	s.Require().NoError(err)

	s.Require().NoError(r.Write(context.Background(), func(tx *realm.Txn) error {
		return tx.Add(&testTask{Name: "committed"})
	}))
	s.Require().NoError(r.Write(context.Background(), func(tx *realm.Txn) error {
		if err := tx.Add(&testNote{Text: "staged"}); err != nil {
			return err
		}
		if err := tx.Add(&testTask{Name: "staged"}); err != nil {
			return err
		}
		return tx.DeleteAll()
	}))

	s.True(r.IsEmpty())
	s.Equal(0, realm.Objects[testTask](r).Len())
	s.Equal(0, realm.Objects[testNote](r).Len())
}

func (s *RealmTestSuite) TestSchemaIsEnforced() {
	r := s.open(s.user, "schema")
	err := r.Write(context.Background(), func(tx *realm.Txn) error {
		return tx.Add(&testNote{Text: "not in schema"})
	})
	s.ErrorIs(err, constants.ErrUnknownClass)
}

func (s *RealmTestSuite) TestDuplicatePrimaryKey() {
	r := s.open(s.user, "duplicates")
	id := models.NewObjectID()
	err := r.Write(context.Background(), func(tx *realm.Txn) error {
		if err := tx.Add(&testTask{ID: id, Name: "one"}); err != nil {
			return err
		}
		return tx.Add(&testTask{ID: id, Name: "two"})
	})
	s.ErrorIs(err, constants.ErrDuplicatePrimaryKey)
	s.True(r.IsEmpty())
}

func (s *RealmTestSuite) TestOpenReturnsCachedRealm() {
	a := s.open(s.user, "cached")
	b := s.open(s.user, "cached")
	s.Same(a, b)

	c := s.open(s.user, "other")
	s.NotSame(a, c)

	a.Close()
	d := s.open(s.user, "cached")
	s.NotSame(a, d)
}

func (s *RealmTestSuite) TestOpenValidatesConfiguration() {
	_, err := realm.Open(context.Background(), s.user.Configuration(nil))
	s.ErrorIs(err, constants.ErrNoPartition)

	_, err = realm.Open(context.Background(), &realm.SyncConfiguration{Partition: "p"})
	s.ErrorIs(err, constants.ErrNoCurrentUser)
}

func (s *RealmTestSuite) TestObserve() {
	r := s.open(s.user, "observe")
	ctx := context.Background()

	changes := make(chan realm.CollectionChange[testTask], 16)
	token := realm.Objects[testTask](r).Observe(func(c realm.CollectionChange[testTask]) {
		changes <- c
	})
	defer token.Invalidate()

	initial := th.RequireValue(s.T(), changes, waitTimeout)
	s.Equal(realm.ChangeInitial, initial.Kind)
	s.Empty(initial.Results)

	task := &testTask{Name: "Do laundry", Status: "Open"}
	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(task) }))
	c := th.RequireValue(s.T(), changes, waitTimeout)
	s.Equal(realm.ChangeUpdate, c.Kind)
	s.Equal([]int{0}, c.Insertions)
	s.Empty(c.Deletions)
	s.Empty(c.Modifications)

	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error {
		return realm.Modify(tx, task.ID, func(t *testTask) { t.Status = "Complete" })
	}))
	c = th.RequireValue(s.T(), changes, waitTimeout)
	s.Equal([]int{0}, c.Modifications)
	s.Equal("Complete", c.Results[0].Status)

	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Delete(task) }))
	c = th.RequireValue(s.T(), changes, waitTimeout)
	s.Equal([]int{0}, c.Deletions)
	s.Empty(c.Results)

	token.Invalidate()
	s.True(token.IsInvalidated())
	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "unseen"}) }))
	th.AssertNoMoreValues(s.T(), changes, 100*time.Millisecond)
}

func (s *RealmTestSuite) TestObserveFilteredIgnoresUnrelatedCommits() {
	r := s.open(s.user, "observe-filtered")
	ctx := context.Background()

	changes := make(chan realm.CollectionChange[testTask], 16)
	token := realm.Objects[testTask](r).Where(realm.Field("status").Equal("InProgress")).Observe(func(c realm.CollectionChange[testTask]) {
		changes <- c
	})
	defer token.Invalidate()
	th.RequireValue(s.T(), changes, waitTimeout)

	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "a", Status: "Open"}) }))
	th.AssertNoMoreValues(s.T(), changes, 100*time.Millisecond)

	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "b", Status: "InProgress"}) }))
	c := th.RequireValue(s.T(), changes, waitTimeout)
	s.Equal([]int{0}, c.Insertions)
}

func (s *RealmTestSuite) TestInvalidateFromCallback() {
	r := s.open(s.user, "invalidate-in-callback")

	calls := make(chan realm.ChangeKind, 4)
	var token *realm.NotificationToken
	ready := make(chan struct{})
	token = realm.Objects[testTask](r).Observe(func(c realm.CollectionChange[testTask]) {
		<-ready
		calls <- c.Kind
		token.Invalidate()
	})
	close(ready)

	s.Equal(realm.ChangeInitial, th.RequireValue(s.T(), calls, waitTimeout))
	s.Require().NoError(r.Write(context.Background(), func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "x"}) }))
	th.AssertNoMoreValues(s.T(), calls, 100*time.Millisecond)
	s.True(token.IsInvalidated())
}

func (s *RealmTestSuite) TestInvalidateDuringCallback() {
	r := s.open(s.user, "invalidate-during-callback")
	release := make(chan struct{})
	calls := make(chan realm.ChangeKind, 4)
	token := realm.Objects[testTask](r).Observe(func(c realm.CollectionChange[testTask]) {
		<-release
		calls <- c.Kind
	})

	// Returns while the initial callback is still blocked.
	token.Invalidate()
	s.True(token.IsInvalidated())
	close(release)

	// The initial delivery may already have been under way.
	received := 0
	for waiting := true; waiting; {
		select {
		case <-calls:
			received++
		case <-time.After(100 * time.Millisecond):
			waiting = false
		}
	}
	s.LessOrEqual(received, 1)

	s.Require().NoError(r.Write(context.Background(), func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "unseen"}) }))
	th.AssertNoMoreValues(s.T(), calls, 100*time.Millisecond)
}

func (s *RealmTestSuite) TestObserveFrozenResultsFails() {
	r := s.open(s.user, "frozen")
	frozen := realm.Objects[testTask](r).Snapshot()
	s.True(frozen.IsFrozen())

	changes := make(chan realm.CollectionChange[testTask], 1)
	token := frozen.Observe(func(c realm.CollectionChange[testTask]) { changes <- c })
	c := th.RequireValue(s.T(), changes, waitTimeout)
	s.Equal(realm.ChangeError, c.Kind)
	s.Error(c.Err)
	s.Eventually(token.IsInvalidated, waitTimeout, 10*time.Millisecond)
}

func (s *RealmTestSuite) TestCloseInvalidatesTokens() {
	r := s.open(s.user, "close-tokens")
	token := realm.Objects[testTask](r).Observe(func(realm.CollectionChange[testTask]) {})
	r.Close()
	s.True(token.IsInvalidated())
	s.True(r.IsClosed())

	err := r.Write(context.Background(), func(tx *realm.Txn) error { return nil })
	s.ErrorIs(err, constants.ErrRealmClosed)
}

func (s *RealmTestSuite) TestSyncBetweenDevices() {
	ctx := ctxTimeout(s.T())
	a := s.open(s.user, "shared")
	b := s.open(s.secondDevice(), "shared")

	changes := make(chan realm.CollectionChange[testTask], 16)
	token := realm.Objects[testTask](b).Observe(func(c realm.CollectionChange[testTask]) { changes <- c })
	defer token.Invalidate()
	th.RequireValue(s.T(), changes, waitTimeout)

	task := &testTask{Name: "Do laundry", Status: "Open"}
	s.Require().NoError(a.Write(ctx, func(tx *realm.Txn) error { return tx.Add(task) }))
	s.Require().NoError(a.WaitForUpload(ctx))

	c := th.RequireValue(s.T(), changes, waitTimeout)
	s.Require().Len(c.Results, 1)
	s.Equal(task.ID, c.Results[0].ID)
	s.Equal([]int{0}, c.Insertions)

	s.Require().NoError(b.Write(ctx, func(tx *realm.Txn) error {
		return realm.Modify(tx, task.ID, func(t *testTask) { t.Status = "Complete" })
	}))
	s.Require().NoError(b.WaitForUpload(ctx))

	s.Eventually(func() bool {
		got, err := realm.ObjectForPrimaryKey[testTask](a, task.ID)
		return err == nil && got != nil && got.Status == "Complete"
	}, waitTimeout, 20*time.Millisecond)
}

func (s *RealmTestSuite) TestPartitionsAreIsolated() {
	ctx := ctxTimeout(s.T())
	mine := s.open(s.user, "mine")
	theirs := s.open(s.secondDevice(), "theirs")

	s.Require().NoError(mine.Write(ctx, func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "private"}) }))
	s.Require().NoError(mine.WaitForUpload(ctx))
	s.Require().NoError(theirs.WaitForDownload(ctx))
	s.True(theirs.IsEmpty())
}

func (s *RealmTestSuite) TestAsyncOpenDownloadsServerState() {
	ctx := ctxTimeout(s.T())
	a := s.open(s.user, "async")
	s.Require().NoError(a.Write(ctx, func(tx *realm.Txn) error {
		return tx.Add(&testTask{Name: "from a", Status: "Open"})
	}))
	s.Require().NoError(a.WaitForUpload(ctx))

	cfg := s.secondDevice().Configuration("async").WithSchema(testTask{})
	b, err := realm.AsyncOpen(ctx, cfg)
	s.Require().NoError(err)
	s.Equal(1, realm.Objects[testTask](b).Len())
	s.Equal(realm.SessionStateActive, b.SyncSession().State())
}

func (s *RealmTestSuite) TestAsyncOpenTimesOut() {
	s.env.Server.AddStubResponse(fakeapp.StubResponse{
		Matcher: fakeapp.RequestMatcher{Method: connection.Subscribe},
		Failure: fakeapp.FailureNoResponse,
	})

	cfg := s.user.Configuration("slow").WithSchema(testTask{})
	cfg.OpenTimeout = 200 * time.Millisecond
	_, err := realm.AsyncOpen(context.Background(), cfg)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *RealmTestSuite) TestAsyncOpenTimeoutKeepsRealmOfOtherCallers() {
	s.env.Server.AddStubResponse(fakeapp.StubResponse{
		Matcher: fakeapp.RequestMatcher{Method: connection.Subscribe},
		Failure: fakeapp.FailureNoResponse,
	})

	mine, err := realm.Open(context.Background(), s.user.Configuration("shared-slow").WithSchema(testTask{}))
	s.Require().NoError(err)

	cfg := s.user.Configuration("shared-slow").WithSchema(testTask{})
	cfg.OpenTimeout = 200 * time.Millisecond
	_, err = realm.AsyncOpen(context.Background(), cfg)
	s.ErrorIs(err, context.DeadlineExceeded)

	s.False(mine.IsClosed())
	s.NoError(mine.Write(context.Background(), func(tx *realm.Txn) error {
		return tx.Add(&testTask{Name: "still writable"})
	}))
	s.Equal(1, realm.Objects[testTask](mine).Len())
}

func (s *RealmTestSuite) TestAsyncOpenTimeoutClosesRealmItOpened() {
	s.env.Server.AddStubResponse(fakeapp.StubResponse{
		Matcher: fakeapp.RequestMatcher{Method: connection.Subscribe},
		Failure: fakeapp.FailureNoResponse,
	})

	cfg := s.user.Configuration("closed-slow").WithSchema(testTask{})
	cfg.OpenTimeout = 200 * time.Millisecond
	_, err := realm.AsyncOpen(context.Background(), cfg)
	s.Require().ErrorIs(err, context.DeadlineExceeded)

	r, err := realm.Open(context.Background(), s.user.Configuration("closed-slow").WithSchema(testTask{}))
	s.Require().NoError(err)
	s.False(r.IsClosed())
}

func (s *RealmTestSuite) TestRejectedUploadIsReported() {
	s.env.Server.AddStubResponse(fakeapp.StubResponse{
		Matcher: fakeapp.RequestMatcher{Method: connection.Upload},
		Error:   &connection.RPCError{Code: realm.ErrCodeBadRequest, Description: "rejected"},
		Times:   1,
	})

	errs := make(chan error, 4)
	cfg := s.user.Configuration("rejected").WithSchema(testTask{})
	cfg.ErrorHandler = func(_ *realm.SyncSession, err error) { errs <- err }
	r, err := realm.Open(context.Background(), cfg)
	s.Require().NoError(err)

	ctx := ctxTimeout(s.T())
	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "dropped"}) }))
	s.Require().NoError(r.WaitForUpload(ctx))

	err = th.RequireValue(s.T(), errs, waitTimeout)
	s.True(realm.IsAppError(err, realm.ErrCodeBadRequest), "got %v", err)

	// Later changes still sync.
	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "kept"}) }))
	s.Require().NoError(r.WaitForUpload(ctx))
}

func (s *RealmTestSuite) TestExpiredAccessTokenIsRefreshed() {
	ctx := ctxTimeout(s.T())
	before, err := s.user.AccessToken(ctx)
	s.Require().NoError(err)

	s.env.Server.ExpireAccessTokens()

	coll := s.user.MongoClient("mongodb-atlas").Database("test").Collection("notes")
	_, err = coll.InsertOne(ctx, testNote{ID: models.NewObjectID(), Text: "after expiry"})
	s.Require().NoError(err)

	after, err := s.user.AccessToken(ctx)
	s.Require().NoError(err)
	s.NotEqual(before, after)
}

func (s *RealmTestSuite) TestSyncSurvivesReconnect() {
	ctx := ctxTimeout(s.T())
	a := s.open(s.user, "reconnect")
	b := s.open(s.secondDevice(), "reconnect")

	s.env.Server.AddStubResponse(fakeapp.StubResponse{
		Matcher: fakeapp.RequestMatcher{Method: connection.Upload},
		Failure: fakeapp.FailureDropConnection,
		Times:   1,
	})

	task := &testTask{Name: "retried"}
	s.Require().NoError(a.Write(ctx, func(tx *realm.Txn) error { return tx.Add(task) }))
	s.Require().NoError(a.WaitForUpload(ctx))

	s.Eventually(func() bool {
		got, err := realm.ObjectForPrimaryKey[testTask](b, task.ID)
		return err == nil && got != nil
	}, waitTimeout, 20*time.Millisecond)
}

func (s *RealmTestSuite) TestLogout() {
	ctx := ctxTimeout(s.T())
	r := s.open(s.user, "logout")
	s.Require().NoError(r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(&testTask{Name: "kept locally"}) }))
	s.Require().NoError(r.WaitForUpload(ctx))

	s.Require().NoError(s.user.Logout(ctx))
	s.Equal(realm.UserStateLoggedOut, s.user.State())
	s.Nil(s.env.App.CurrentUser())
	s.Equal(realm.SessionStateInactive, r.SyncSession().State())

	// The realm stays readable but no longer syncs.
	s.Equal(1, realm.Objects[testTask](r).Len())
	s.ErrorIs(r.WaitForDownload(ctx), constants.ErrUserLoggedOut)

	_, err := realm.Open(ctx, s.user.Configuration("logout"))
	s.ErrorIs(err, constants.ErrUserLoggedOut)

	_, err = s.user.AccessToken(ctx)
	s.ErrorIs(err, constants.ErrUserLoggedOut)

	s.Require().NoError(s.user.Logout(ctx), "second logout is a no-op")
}

func (s *RealmTestSuite) TestRemoveUser() {
	ctx := context.Background()
	anon, err := s.env.App.Login(ctx, realm.Anonymous())
	s.Require().NoError(err)

	s.Require().NoError(s.env.App.RemoveUser(ctx, anon))
	s.Equal(realm.UserStateRemoved, anon.State())
	s.Len(s.env.App.AllUsers(), 1)
	s.Equal(s.user, s.env.App.CurrentUser())
}

func TestRealmPersistsAcrossRestarts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*waitTimeout)
	defer cancel()

	srv, err := testenv.StartServer(nil)
	require.NoError(t, err)

	appCfg := realm.NewAppConfig(srv.AppID(), srv.URL())
	appCfg.Logger = logger.Discard
	app, err := realm.NewApp(ctx, appCfg)
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	user, err := app.Login(ctx, realm.EmailPassword(testenv.Email, testenv.Password))
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := user.Configuration("persisted").WithSchema(testTask{})
	cfg.Dir = dir
	cfg.ErrorHandler = func(*realm.SyncSession, error) {}

	r, err := realm.Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, r.Write(ctx, func(tx *realm.Txn) error {
		return tx.Add(&testTask{Name: "synced"})
	}))
	require.NoError(t, r.WaitForUpload(ctx))
	r.Close()
	assert.FileExists(t, filepath.Join(dir, app.ID(), user.ID(), "string:persisted.realm"))

	// Without a backend the realm opens from disk and queues new changes.
	require.NoError(t, srv.Stop(ctx))

	r, err = realm.Open(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, realm.Objects[testTask](r).Len())
	require.NoError(t, r.Write(ctx, func(tx *realm.Txn) error {
		return tx.Add(&testTask{Name: "offline"})
	}))
	r.Close()

	r, err = realm.Open(ctx, cfg)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, realm.Objects[testTask](r).Len())
}
