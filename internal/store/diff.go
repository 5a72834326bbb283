package store

import "github.com/takameyer/realm.go/pkg/models"

// Diff computes the index sets of a collection change between two ordered lists
// of primary keys. Deletions are indices into old; insertions and modifications
// are indices into new. An id present in both lists is reported as modified when
// modified reports true for it.
func Diff(old, new []models.ObjectID, modified func(models.ObjectID) bool) (deletions, insertions, modifications []int) {
	inOld := make(map[models.ObjectID]struct{}, len(old))
	for _, id := range old {
		inOld[id] = struct{}{}
	}
	inNew := make(map[models.ObjectID]struct{}, len(new))
	for _, id := range new {
		inNew[id] = struct{}{}
	}

	deletions = []int{}
	insertions = []int{}
	modifications = []int{}

	for i, id := range old {
		if _, ok := inNew[id]; !ok {
			deletions = append(deletions, i)
		}
	}
	for i, id := range new {
		if _, ok := inOld[id]; !ok {
			insertions = append(insertions, i)
			continue
		}
		if modified != nil && modified(id) {
			modifications = append(modifications, i)
		}
	}

	return deletions, insertions, modifications
}

// DiffRows is Diff over two row lists; a row is modified when its version changed.
func DiffRows(old, new []*Row) (deletions, insertions, modifications []int) {
	versions := make(map[models.ObjectID]uint64, len(old))
	oldIDs := make([]models.ObjectID, len(old))
	for i, r := range old {
		oldIDs[i] = r.ID
		versions[r.ID] = r.Version
	}
	newIDs := make([]models.ObjectID, len(new))
	newVersions := make(map[models.ObjectID]uint64, len(new))
	for i, r := range new {
		newIDs[i] = r.ID
		newVersions[r.ID] = r.Version
	}

	return Diff(oldIDs, newIDs, func(id models.ObjectID) bool {
		return versions[id] != newVersions[id]
	})
}
