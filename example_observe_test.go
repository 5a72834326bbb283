package realm_test

import (
	"context"
	"fmt"

	realm "github.com/takameyer/realm.go"
	"github.com/takameyer/realm.go/contrib/testenv"
	"github.com/takameyer/realm.go/pkg/models"
)

type Item struct {
	ID     models.ObjectID `cbor:"_id"`
	Name   string          `cbor:"name"`
	Status string          `cbor:"status"`
}

func ExampleResults_Observe() {
	env := testenv.MustNew()
	defer env.Close()

	ctx := context.Background()
	user, err := env.Login(ctx)
	if err != nil {
		panic(err)
	}

	r, err := realm.AsyncOpen(ctx, user.Configuration("example-observe").WithSchema(Item{}))
	if err != nil {
		panic(fmt.Sprintf("Open failed: %v", err))
	}
	defer r.Close()

	changes := make(chan realm.CollectionChange[Item])
	token := realm.Objects[Item](r).Observe(func(c realm.CollectionChange[Item]) {
		changes <- c
	})
	defer token.Invalidate()

	c := <-changes
	fmt.Println(c.Kind, len(c.Results))

	item := &Item{Name: "Do laundry", Status: "Open"}
	if err := r.Write(ctx, func(tx *realm.Txn) error { return tx.Add(item) }); err != nil {
		panic(err)
	}
	c = <-changes
	fmt.Println(c.Kind, "insertions:", c.Insertions)

	err = r.Write(ctx, func(tx *realm.Txn) error {
		return realm.Modify(tx, item.ID, func(i *Item) { i.Status = "InProgress" })
	})
	if err != nil {
		panic(err)
	}
	c = <-changes
	fmt.Println(c.Kind, "modifications:", c.Modifications, c.Results[0].Status)

	if err := r.Write(ctx, func(tx *realm.Txn) error { return tx.Delete(item) }); err != nil {
		panic(err)
	}
	c = <-changes
	fmt.Println(c.Kind, "deletions:", c.Deletions)

	// Output:
	// Initial 0
	// Update insertions: [0]
	// Update modifications: [0] InProgress
	// Update deletions: [0]
}
