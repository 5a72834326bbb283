// Package quickstart is the complete quickstart: log in, open a synced realm,
// observe the tasks, write, query, and log out.
package quickstart

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	realm "github.com/takameyer/realm.go"
	"github.com/takameyer/realm.go/pkg/models"
)

type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "InProgress"
	StatusComplete   Status = "Complete"
)

// Task is the object synced by the quickstart.
type Task struct {
	ID     models.ObjectID `cbor:"_id" json:"_id"`
	Name   string          `cbor:"name" json:"name"`
	Owner  *string         `cbor:"owner,omitempty" json:"owner,omitempty"`
	Status Status          `cbor:"status" json:"status"`
}

func (Task) ClassName() string { return "Task" }

func NewTask(name string) *Task {
	return &Task{Name: name, Status: StatusOpen}
}

type Config struct {
	Partition string
	// Credentials default to anonymous.
	Credentials realm.Credentials
	// JSON prints one JSON object per step instead of text.
	JSON bool
	// ChangeTimeout bounds the wait for each change notification.
	ChangeTimeout time.Duration
}

func NewConfig() *Config {
	return &Config{
		Partition:     "quickstart",
		Credentials:   realm.Anonymous(),
		ChangeTimeout: 5 * time.Second,
	}
}

// Step is one printed step.
type Step struct {
	Step          string   `json:"step"`
	Message       string   `json:"message"`
	Tasks         []string `json:"tasks,omitempty"`
	Deletions     []int    `json:"deletions,omitempty"`
	Insertions    []int    `json:"insertions,omitempty"`
	Modifications []int    `json:"modifications,omitempty"`
}

type printer struct {
	out  io.Writer
	json bool
}

func (p *printer) print(s Step) error {
	if p.json {
		return json.NewEncoder(p.out).Encode(s)
	}
	_, err := fmt.Fprintln(p.out, s.Message)
	return err
}

func names(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name
	}
	return out
}

// Run walks through the quickstart on app and prints every step to out.
func Run(ctx context.Context, app *realm.App, out io.Writer, cfg *Config) error {
	if cfg == nil {
		cfg = NewConfig()
	}
	p := &printer{out: out, json: cfg.JSON}

	user, err := app.Login(ctx, cfg.Credentials)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := p.print(Step{Step: "login", Message: fmt.Sprintf("Login as %s user succeeded!", user.Provider())}); err != nil {
		return err
	}

	// AsyncOpen downloads the backend data first.
	r, err := realm.AsyncOpen(ctx, user.Configuration(cfg.Partition).WithSchema(Task{}))
	if err != nil {
		return fmt.Errorf("failed to open realm: %w", err)
	}
	defer r.Close()
	if err := p.print(Step{Step: "open", Message: fmt.Sprintf("Opened realm for partition %q", cfg.Partition)}); err != nil {
		return err
	}

	tasks := realm.Objects[Task](r)

	changes := make(chan realm.CollectionChange[Task], 8)
	token := tasks.Observe(func(c realm.CollectionChange[Task]) {
		changes <- c
	})
	defer token.Invalidate()

	awaitChange := func() error {
		for {
			select {
			case c := <-changes:
				switch c.Kind {
				case realm.ChangeInitial:
					continue
				case realm.ChangeError:
					return c.Err
				}
				return p.print(Step{
					Step: "change",
					Message: fmt.Sprintf("Deleted indices: %v Inserted indices: %v Modified indices: %v",
						c.Deletions, c.Insertions, c.Modifications),
					Deletions:     c.Deletions,
					Insertions:    c.Insertions,
					Modifications: c.Modifications,
				})
			case <-time.After(cfg.ChangeTimeout):
				return fmt.Errorf("no change notification within %s", cfg.ChangeTimeout)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	write := func(fn func(tx *realm.Txn) error) error {
		if err := r.Write(ctx, fn); err != nil {
			return err
		}
		return awaitChange()
	}

	if tasks.Len() > 0 {
		if err := write(func(tx *realm.Txn) error { return tx.DeleteAll() }); err != nil {
			return err
		}
	}

	for _, name := range []string{"Do laundry", "App design"} {
		task := NewTask(name)
		if err := write(func(tx *realm.Txn) error { return tx.Add(task) }); err != nil {
			return err
		}
	}

	startingWithA, err := tasks.Where(realm.Field("name").BeginsWith("A")).All()
	if err != nil {
		return err
	}
	if err := p.print(Step{
		Step:    "filter",
		Message: fmt.Sprintf("A list of all tasks that begin with A: %v", names(startingWithA)),
		Tasks:   names(startingWithA),
	}); err != nil {
		return err
	}

	taskToUpdate, err := tasks.At(0)
	if err != nil {
		return err
	}
	err = write(func(tx *realm.Txn) error {
		return realm.Modify(tx, taskToUpdate.ID, func(t *Task) { t.Status = StatusInProgress })
	})
	if err != nil {
		return err
	}

	inProgress, err := tasks.Where(realm.Field("status").Equal(StatusInProgress)).All()
	if err != nil {
		return err
	}
	if err := p.print(Step{
		Step:    "query",
		Message: fmt.Sprintf("A list of all tasks in progress: %v", names(inProgress)),
		Tasks:   names(inProgress),
	}); err != nil {
		return err
	}

	taskToDelete, err := tasks.At(0)
	if err != nil {
		return err
	}
	if err := write(func(tx *realm.Txn) error { return tx.Delete(&taskToDelete) }); err != nil {
		return err
	}

	remaining, err := tasks.All()
	if err != nil {
		return err
	}
	if err := p.print(Step{
		Step:    "delete",
		Message: fmt.Sprintf("A list of all tasks after deleting one: %v", names(remaining)),
		Tasks:   names(remaining),
	}); err != nil {
		return err
	}

	if err := r.WaitForUpload(ctx); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := user.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return p.print(Step{Step: "logout", Message: "Logged out"})
}
