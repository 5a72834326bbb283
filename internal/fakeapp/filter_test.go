package fakeapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/takameyer/realm.go/pkg/models"
)

func TestMatches(t *testing.T) {
	doc := map[string]any{
		"name":     "Pay bills",
		"status":   "Open",
		"priority": int64(3),
		"owner":    map[string]any{"email": "alice@example.com"},
	}

	cases := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"empty", map[string]any{}, true},
		{"equality", map[string]any{"status": "Open"}, true},
		{"equality mismatch", map[string]any{"status": "Done"}, false},
		{"missing field", map[string]any{"missing": "x"}, false},
		{"numeric across types", map[string]any{"priority": 3.0}, true},
		{"dotted path", map[string]any{"owner.email": "alice@example.com"}, true},
		{"$ne", map[string]any{"status": map[string]any{"$ne": "Done"}}, true},
		{"$ne on missing", map[string]any{"missing": map[string]any{"$ne": 1}}, true},
		{"$in", map[string]any{"status": map[string]any{"$in": []any{"Open", "Done"}}}, true},
		{"$nin", map[string]any{"status": map[string]any{"$nin": []any{"Open"}}}, false},
		{"range", map[string]any{"priority": map[string]any{"$gt": 1, "$lte": 3}}, true},
		{"range excluded", map[string]any{"priority": map[string]any{"$lt": 3}}, false},
		{"$exists", map[string]any{"owner": map[string]any{"$exists": true}}, true},
		{"$exists false", map[string]any{"missing": map[string]any{"$exists": false}}, true},
		{"$and", map[string]any{"$and": []any{map[string]any{"status": "Open"}, map[string]any{"priority": 3}}}, true},
		{"$or", map[string]any{"$or": []any{map[string]any{"status": "Done"}, map[string]any{"priority": 3}}}, true},
		{"$or none", map[string]any{"$or": []any{map[string]any{"status": "Done"}}}, false},
		{"$nor", map[string]any{"$nor": []any{map[string]any{"status": "Done"}}}, true},
		{"subdocument equality", map[string]any{"owner": map[string]any{"email": "alice@example.com"}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := matches(doc, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchesRejectsUnknownOperator(t *testing.T) {
	_, err := matches(map[string]any{"a": 1}, map[string]any{"a": map[string]any{"$regex": "x"}})
	assert.Error(t, err)

	_, err = matches(map[string]any{"a": 1}, map[string]any{"$or": "nope"})
	assert.Error(t, err)
}

func TestApplyUpdate(t *testing.T) {
	id := models.NewObjectID()
	doc := map[string]any{"_id": id, "name": "Pay bills", "count": int64(1), "tmp": true}

	out, changed, err := applyUpdate(doc, map[string]any{
		"$set":   map[string]any{"name": "Pay rent"},
		"$inc":   map[string]any{"count": 2, "fresh": 5},
		"$unset": map[string]any{"tmp": ""},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Pay rent", out["name"])
	assert.Equal(t, int64(3), out["count"])
	assert.Equal(t, 5, out["fresh"])
	assert.NotContains(t, out, "tmp")
	assert.Equal(t, "Pay bills", doc["name"], "input must not be modified")

	out, changed, err = applyUpdate(doc, map[string]any{"name": "Pay bills"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, doc["count"], out["count"])

	_, _, err = applyUpdate(doc, map[string]any{"$set": map[string]any{"_id": models.NewObjectID()}})
	assert.Error(t, err)

	_, changed, err = applyUpdate(doc, map[string]any{"$set": map[string]any{"_id": id}})
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = applyUpdate(doc, map[string]any{"$inc": map[string]any{"name": 1}})
	assert.Error(t, err)

	_, _, err = applyUpdate(doc, map[string]any{"$push": map[string]any{"tags": "x"}})
	assert.Error(t, err)
}

func TestSeedFromFilter(t *testing.T) {
	seed := seedFromFilter(map[string]any{
		"name":       "Walk dog",
		"status":     map[string]any{"$eq": "Open"},
		"priority":   map[string]any{"$gt": 1},
		"owner.id":   "x",
		"$or":        []any{},
		"_partition": "p1",
	})
	assert.Equal(t, models.Document{"name": "Walk dog", "status": "Open", "_partition": "p1"}, seed)
}

func TestSetThenMatches(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		field := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "field")
		value := rapid.Int64().Draw(t, "value")

		out, _, err := applyUpdate(map[string]any{}, map[string]any{"$set": map[string]any{field: value}})
		if err != nil {
			t.Fatal(err)
		}
		ok, err := matches(out, map[string]any{field: value})
		if err != nil || !ok {
			t.Fatalf("document %v does not match its own $set of %s", out, field)
		}
		ok, _ = matches(out, map[string]any{field: map[string]any{"$gte": value, "$lte": value}})
		if !ok {
			t.Fatalf("range around %d did not match", value)
		}
	})
}
