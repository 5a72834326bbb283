package realm_test

import (
	"context"
	"time"

	th "github.com/launchdarkly/go-test-helpers/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	realm "github.com/takameyer/realm.go"
	"github.com/takameyer/realm.go/pkg/models"
)

func (s *RealmTestSuite) collection(db, name string) *realm.MongoCollection {
	return s.user.MongoClient("mongodb-atlas").Database(db).Collection(name)
}

func (s *RealmTestSuite) TestRemoteCollectionCRUD() {
	ctx := ctxTimeout(s.T())
	plants := s.collection("example", "plants")
	s.Equal("example.plants", plants.String())

	for _, name := range []string{"venus flytrap", "sweet basil", "thai basil"} {
		_, err := plants.InsertOne(ctx, bson.M{"name": name, "sunlight": "partial"})
		s.Require().NoError(err)
	}

	id := models.NewObjectID()
	res, err := plants.InsertOne(ctx, testNote{ID: id, Text: "struct documents work too"})
	s.Require().NoError(err)
	s.Equal(id, res.InsertedID)

	_, err = plants.InsertOne(ctx, bson.M{"_id": primitive.ObjectID(id)})
	s.True(realm.IsAppError(err, realm.ErrCodeDuplicateKey), "got %v", err)

	n, err := plants.Count(ctx, bson.M{"sunlight": "partial"})
	s.Require().NoError(err)
	s.EqualValues(3, n)

	docs, err := plants.Find(ctx, bson.M{"sunlight": "partial"}, options.Find().SetLimit(2))
	s.Require().NoError(err)
	s.Require().Len(docs, 2)
	s.Equal("venus flytrap", docs[0]["name"])

	doc, err := plants.FindOne(ctx, bson.D{{Key: "_id", Value: primitive.ObjectID(id)}})
	s.Require().NoError(err)
	s.Equal("struct documents work too", doc["text"])

	upd, err := plants.UpdateOne(ctx, bson.M{"name": "sweet basil"}, bson.M{"$set": bson.M{"sunlight": "full"}})
	s.Require().NoError(err)
	s.EqualValues(1, upd.MatchedCount)
	s.EqualValues(1, upd.ModifiedCount)

	upd, err = plants.UpdateOne(ctx, bson.M{"name": "lily"}, bson.M{"$set": bson.M{"sunlight": "shade"}},
		options.Update().SetUpsert(true))
	s.Require().NoError(err)
	s.EqualValues(0, upd.MatchedCount)
	s.EqualValues(1, upd.UpsertedCount)
	s.NotNil(upd.UpsertedID)

	lily, err := plants.FindOne(ctx, bson.M{"name": "lily"})
	s.Require().NoError(err)
	s.Equal("shade", lily["sunlight"])

	del, err := plants.DeleteOne(ctx, bson.M{"name": "thai basil"})
	s.Require().NoError(err)
	s.EqualValues(1, del.DeletedCount)

	_, err = plants.FindOne(ctx, bson.M{"name": "thai basil"})
	s.ErrorIs(err, mongo.ErrNoDocuments)
}

func (s *RealmTestSuite) TestRemoteWriteReachesRealm() {
	ctx := ctxTimeout(s.T())
	r := s.open(s.user, "remote")

	changes := make(chan realm.CollectionChange[testTask], 16)
	token := realm.Objects[testTask](r).Observe(func(c realm.CollectionChange[testTask]) { changes <- c })
	defer token.Invalidate()
	th.RequireValue(s.T(), changes, waitTimeout)

	tasks := s.collection("todo", "Task")
	res, err := tasks.InsertOne(ctx, bson.M{"name": "From the backend", "status": "Open", "_partition": "remote"})
	s.Require().NoError(err)

	c := th.RequireValue(s.T(), changes, waitTimeout)
	s.Require().Len(c.Results, 1)
	s.Equal(res.InsertedID, c.Results[0].ID)
	s.Equal("From the backend", c.Results[0].Name)

	// Moving the object to another partition removes it from the realm.
	_, err = tasks.UpdateOne(ctx, bson.M{"_id": res.InsertedID}, bson.M{"$set": bson.M{"_partition": "elsewhere"}})
	s.Require().NoError(err)
	c = th.RequireValue(s.T(), changes, waitTimeout)
	s.Equal([]int{0}, c.Deletions)
	s.Empty(c.Results)
}

func (s *RealmTestSuite) TestWatch() {
	ctx := ctxTimeout(s.T())
	plants := s.collection("example", "watched")

	stream, err := plants.Watch(ctx)
	s.Require().NoError(err)
	defer stream.Close()

	res, err := plants.InsertOne(ctx, bson.M{"name": "fern"})
	s.Require().NoError(err)

	ev := th.RequireValue(s.T(), stream.Events(), waitTimeout)
	s.Equal("insert", ev.OperationType)
	s.Equal("watched", ev.Namespace.Collection)
	s.Equal(res.InsertedID, ev.DocumentKey.ID)
	s.Equal("fern", ev.FullDocument["name"])
	s.Equal(res.InsertedID, ev.FullDocument["_id"])

	_, err = plants.DeleteOne(ctx, bson.M{"name": "fern"})
	s.Require().NoError(err)
	ev = th.RequireValue(s.T(), stream.Events(), waitTimeout)
	s.Equal("delete", ev.OperationType)
	s.Nil(ev.FullDocument)

	// Other collections do not show up.
	_, err = s.collection("example", "other").InsertOne(ctx, bson.M{"name": "moss"})
	s.Require().NoError(err)
	th.AssertNoMoreValues(s.T(), stream.Events(), 100*time.Millisecond)

	stream.Close()
	s.Eventually(func() bool {
		_, open := <-stream.Events()
		return !open
	}, waitTimeout, 10*time.Millisecond)
}

func (s *RealmTestSuite) TestWatchRequiresLogin() {
	ctx := context.Background()
	plants := s.collection("example", "watched")
	s.Require().NoError(s.user.Logout(ctx))

	_, err := plants.Watch(ctx)
	s.Error(err)
}
