package fakeapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	th "github.com/launchdarkly/go-test-helpers/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/gorillaws"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/models"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse"
	testAPIKey   = "server-key"
)

type ServerTestSuite struct {
	suite.Suite
	server *Server
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	cfg := NewConfig()
	cfg.Users[testEmail] = testPassword
	cfg.APIKeys = []string{testAPIKey}

	srv, err := NewServer(cfg)
	s.Require().NoError(err)
	s.Require().NoError(srv.Start())
	s.server = srv
}

func (s *ServerTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.server.Stop(ctx))
}

func (s *ServerTestSuite) connect() connection.Connection {
	u, err := url.Parse(s.server.URL())
	s.Require().NoError(err)

	conf := connection.NewConfig(u)
	conf.Timeout = 2 * time.Second
	conn := gorillaws.New(conf)
	s.Require().NoError(conn.Connect(context.Background()))
	s.T().Cleanup(func() {
		_ = conn.Close(context.Background())
	})
	return conn
}

func (s *ServerTestSuite) login(conn connection.Connection) *rpc.LoginResult {
	ctx := context.Background()
	res, err := rpc.Login(conn, ctx, rpc.ProviderEmailPassword, map[string]any{
		"username": testEmail,
		"password": testPassword,
	})
	s.Require().NoError(err)
	s.Require().NoError(rpc.Authenticate(conn, ctx, res.AccessToken))
	return res
}

func (s *ServerTestSuite) TestLocation() {
	res, err := http.Get(fmt.Sprintf("%s/api/client/v2.0/app/%s/location", s.server.URL(), s.server.AppID()))
	s.Require().NoError(err)
	defer res.Body.Close()
	s.Equal(http.StatusOK, res.StatusCode)

	var loc Location
	s.Require().NoError(json.NewDecoder(res.Body).Decode(&loc))
	s.Equal("ws://"+s.server.Address(), loc.WSHostname)

	res2, err := http.Get(fmt.Sprintf("%s/api/client/v2.0/app/unknown/location", s.server.URL()))
	s.Require().NoError(err)
	defer res2.Body.Close()
	s.Equal(http.StatusNotFound, res2.StatusCode)
}

func (s *ServerTestSuite) TestLoginProviders() {
	conn := s.connect()
	ctx := context.Background()

	anon1, err := rpc.Login(conn, ctx, rpc.ProviderAnonymous, nil)
	s.Require().NoError(err)
	anon2, err := rpc.Login(conn, ctx, rpc.ProviderAnonymous, nil)
	s.Require().NoError(err)
	s.NotEqual(anon1.UserID, anon2.UserID)
	s.Equal(rpc.ProviderAnonymous, anon1.Provider)

	key1, err := rpc.Login(conn, ctx, rpc.ProviderAPIKey, map[string]any{"key": testAPIKey})
	s.Require().NoError(err)
	key2, err := rpc.Login(conn, ctx, rpc.ProviderAPIKey, map[string]any{"key": testAPIKey})
	s.Require().NoError(err)
	s.Equal(key1.UserID, key2.UserID)

	_, err = rpc.Login(conn, ctx, rpc.ProviderAPIKey, map[string]any{"key": "nope"})
	var rpcErr *connection.RPCError
	s.Require().ErrorAs(err, &rpcErr)
	s.Equal(CodeAuthError, rpcErr.Code)

	_, err = rpc.Login(conn, ctx, rpc.ProviderEmailPassword, map[string]any{"username": testEmail, "password": "wrong"})
	s.ErrorIs(err, &connection.RPCError{Code: CodeAuthError})
}

func (s *ServerTestSuite) TestRegisterThenLogin() {
	conn := s.connect()
	ctx := context.Background()

	s.Require().NoError(rpc.Register(conn, ctx, "bob@example.com", "pa55word"))
	err := rpc.Register(conn, ctx, "bob@example.com", "pa55word")
	s.ErrorIs(err, &connection.RPCError{Code: CodeAccountNameInUse})
	err = rpc.Register(conn, ctx, "carol@example.com", "short")
	s.ErrorIs(err, &connection.RPCError{Code: CodeBadRequest})

	res, err := rpc.Login(conn, ctx, rpc.ProviderEmailPassword, map[string]any{"username": "bob@example.com", "password": "pa55word"})
	s.Require().NoError(err)
	s.NotEmpty(res.AccessToken)
	s.NotEmpty(res.RefreshToken)
	s.Equal(int64(NewConfig().AccessTokenTTL/time.Second), res.ExpiresIn)
}

func (s *ServerTestSuite) TestRequiresAuthentication() {
	conn := s.connect()
	_, err := rpc.Count(conn, context.Background(), rpc.Namespace{Database: "todo", Collection: "Task"}, nil)
	s.ErrorIs(err, &connection.RPCError{Code: CodeInvalidSession})
}

func (s *ServerTestSuite) TestExpiredAccessTokenAndRefresh() {
	conn := s.connect()
	ctx := context.Background()
	login := s.login(conn)
	ns := rpc.Namespace{Database: "todo", Collection: "Task"}

	_, err := rpc.Count(conn, ctx, ns, nil)
	s.Require().NoError(err)

	s.server.ExpireAccessTokens()
	_, err = rpc.Count(conn, ctx, ns, nil)
	s.ErrorIs(err, &connection.RPCError{Code: CodeInvalidSession})

	refreshed, err := rpc.Refresh(conn, ctx, login.RefreshToken)
	s.Require().NoError(err)
	s.Require().NoError(rpc.Authenticate(conn, ctx, refreshed.AccessToken))
	_, err = rpc.Count(conn, ctx, ns, nil)
	s.NoError(err)

	s.Require().NoError(rpc.Logout(conn, ctx, login.RefreshToken))
	_, err = rpc.Refresh(conn, ctx, login.RefreshToken)
	s.ErrorIs(err, &connection.RPCError{Code: CodeInvalidSession})
}

func (s *ServerTestSuite) TestRemoteCollectionCRUD() {
	conn := s.connect()
	ctx := context.Background()
	s.login(conn)
	ns := rpc.Namespace{Database: "todo", Collection: "Task"}

	inserted, err := rpc.InsertOne(conn, ctx, ns, models.Document{"name": "Pay bills", "status": "Open", "priority": 1})
	s.Require().NoError(err)
	s.False(inserted.InsertedID.IsZero())

	_, err = rpc.InsertOne(conn, ctx, ns, models.Document{"_id": inserted.InsertedID, "name": "dup"})
	s.ErrorIs(err, &connection.RPCError{Code: CodeDuplicateKey})

	doc, err := rpc.FindOne(conn, ctx, ns, models.Document{"name": "Pay bills"})
	s.Require().NoError(err)
	s.Require().NotNil(doc)
	s.Equal(inserted.InsertedID, doc["_id"])

	missing, err := rpc.FindOne(conn, ctx, ns, models.Document{"name": "nothing"})
	s.Require().NoError(err)
	s.Nil(missing)

	upd, err := rpc.UpdateOne(conn, ctx, ns, models.Document{"name": "Pay bills"}, models.Document{"$set": models.Document{"status": "InProgress"}, "$inc": models.Document{"priority": 2}}, false)
	s.Require().NoError(err)
	s.Equal(int64(1), upd.MatchedCount)
	s.Equal(int64(1), upd.ModifiedCount)

	doc, err = rpc.FindOne(conn, ctx, ns, models.Document{"_id": inserted.InsertedID})
	s.Require().NoError(err)
	s.Equal("InProgress", doc["status"])
	s.True(models.Equal(3, doc["priority"]))

	upd, err = rpc.UpdateOne(conn, ctx, ns, models.Document{"name": "Pay bills"}, models.Document{"$set": models.Document{"status": "InProgress"}}, false)
	s.Require().NoError(err)
	s.Equal(int64(1), upd.MatchedCount)
	s.Equal(int64(0), upd.ModifiedCount)

	upd, err = rpc.UpdateOne(conn, ctx, ns, models.Document{"name": "Walk dog"}, models.Document{"status": "Open"}, true)
	s.Require().NoError(err)
	s.Equal(int64(0), upd.MatchedCount)
	s.Require().NotNil(upd.UpsertedID)

	n, err := rpc.Count(conn, ctx, ns, nil)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	docs, err := rpc.Find(conn, ctx, ns, models.Document{"status": models.Document{"$in": []any{"Open", "InProgress"}}}, rpc.FindOptions{Limit: 1})
	s.Require().NoError(err)
	s.Len(docs, 1)

	del, err := rpc.DeleteOne(conn, ctx, ns, models.Document{"name": "Walk dog"})
	s.Require().NoError(err)
	s.Equal(int64(1), del.DeletedCount)

	n, err = rpc.Count(conn, ctx, ns, nil)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *ServerTestSuite) subscribe(conn connection.Connection, partition any) (models.UUID, chan connection.Notification, *rpc.SubscribeResult) {
	id := models.NewUUID()
	ch, err := conn.LiveNotifications(id.String())
	s.Require().NoError(err)
	res, err := rpc.Subscribe(conn, context.Background(), id, partition, []string{"Task"})
	s.Require().NoError(err)
	return id, ch, res
}

func (s *ServerTestSuite) TestSyncBetweenTwoClients() {
	ctx := context.Background()
	a, b := s.connect(), s.connect()
	s.login(a)
	s.login(b)

	subA, chA, _ := s.subscribe(a, "myPartition")
	_, chB, snapB := s.subscribe(b, "myPartition")
	_, chOther, _ := s.subscribe(b, "otherPartition")
	s.Empty(snapB.Objects["Task"])

	id := models.NewObjectID()
	res, err := rpc.Upload(a, ctx, subA, store.Changeset{Ops: []store.Op{
		{Kind: store.OpUpsert, Class: "Task", ID: id, Doc: models.Document{"_id": id, "name": "New task", "status": "Open"}},
	}})
	s.Require().NoError(err)
	s.NotZero(res.Version)

	n := th.RequireValue(s.T(), chB, 2*time.Second)
	s.Equal(connection.ChangeAction, n.Action)
	var cs store.Changeset
	s.Require().NoError(a.GetUnmarshaler().Unmarshal(n.Result, &cs))
	s.Require().Len(cs.Ops, 1)
	s.Equal(id, cs.Ops[0].ID)
	s.NotContains(cs.Ops[0].Doc, "_partition")

	th.AssertNoMoreValues(s.T(), chA, 50*time.Millisecond)
	th.AssertNoMoreValues(s.T(), chOther, 50*time.Millisecond)

	// A late subscriber sees the object in its snapshot.
	c := s.connect()
	s.login(c)
	_, _, snapC := s.subscribe(c, "myPartition")
	s.Require().Len(snapC.Objects["Task"], 1)
	s.Equal("New task", snapC.Objects["Task"][0]["name"])

	// Clearing only affects the uploader's partition.
	_, err = rpc.Upload(b, ctx, s.subscriptionOf(b, "otherPartition"), store.Changeset{Ops: []store.Op{{Kind: store.OpClear, Class: "Task"}}})
	s.Require().NoError(err)
	count, err := rpc.Count(a, ctx, rpc.Namespace{Database: "todo", Collection: "Task"}, nil)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *ServerTestSuite) subscriptionOf(conn connection.Connection, partition string) models.UUID {
	id, _, _ := s.subscribe(conn, partition)
	return id
}

func (s *ServerTestSuite) TestRemoteWriteReachesSubscribers() {
	ctx := context.Background()
	conn := s.connect()
	s.login(conn)
	_, ch, _ := s.subscribe(conn, "p1")

	_, err := rpc.InsertOne(conn, ctx, rpc.Namespace{Database: "todo", Collection: "Task"}, models.Document{"name": "from remote", "_partition": "p1"})
	s.Require().NoError(err)

	n := th.RequireValue(s.T(), ch, 2*time.Second)
	var cs store.Changeset
	s.Require().NoError(conn.GetUnmarshaler().Unmarshal(n.Result, &cs))
	s.Require().Len(cs.Ops, 1)
	s.Equal(store.OpUpsert, cs.Ops[0].Kind)
	s.Equal("from remote", cs.Ops[0].Doc["name"])

	// Moving the object to another partition deletes it for this subscriber.
	_, err = rpc.UpdateOne(conn, ctx, rpc.Namespace{Database: "todo", Collection: "Task"}, models.Document{"name": "from remote"}, models.Document{"$set": models.Document{"_partition": "p2"}}, false)
	s.Require().NoError(err)
	n = th.RequireValue(s.T(), ch, 2*time.Second)
	s.Require().NoError(conn.GetUnmarshaler().Unmarshal(n.Result, &cs))
	s.Equal(store.OpDelete, cs.Ops[0].Kind)
}

func (s *ServerTestSuite) TestUnsubscribe() {
	ctx := context.Background()
	conn := s.connect()
	s.login(conn)
	id, _, _ := s.subscribe(conn, "p1")

	s.Require().NoError(rpc.Unsubscribe(conn, ctx, id))
	err := rpc.Unsubscribe(conn, ctx, id)
	s.ErrorIs(err, &connection.RPCError{Code: CodeSubscriptionNotFound})
	_, err = rpc.Upload(conn, ctx, id, store.Changeset{})
	s.ErrorIs(err, &connection.RPCError{Code: CodeSubscriptionNotFound})
}

func (s *ServerTestSuite) TestStubResponse() {
	ctx := context.Background()
	conn := s.connect()

	s.server.AddStubResponse(StubResponse{
		Matcher: RequestMatcher{Method: connection.Login},
		Error:   &connection.RPCError{Code: CodeInternal, Message: "injected"},
		Times:   1,
	})

	_, err := rpc.Login(conn, ctx, rpc.ProviderAnonymous, nil)
	s.ErrorIs(err, &connection.RPCError{Code: CodeInternal})

	_, err = rpc.Login(conn, ctx, rpc.ProviderAnonymous, nil)
	s.NoError(err)
}

func (s *ServerTestSuite) TestStubDropConnection() {
	conn := s.connect()

	s.server.AddStubResponse(StubResponse{
		Matcher: RequestMatcher{Method: connection.Login},
		Failure: FailureDropConnection,
	})

	_, err := rpc.Login(conn, context.Background(), rpc.ProviderAnonymous, nil)
	s.Error(err)
	s.Eventually(conn.IsClosed, time.Second, 10*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	cfg.Users["not-an-email"] = "password"
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Users["a@example.com"] = "pw"
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.AppID = ""
	assert.Error(t, cfg.Validate())

	_, err := NewServer(cfg)
	assert.Error(t, err)
}
