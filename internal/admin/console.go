package admin

import (
	"context"
	"fmt"
	"sort"

	"github.com/erp/adminconsole/internal/client"
)

// Resource names as they appear in API paths and on the command line.
const (
	TutorsResource       = "tutors"
	StudentsResource     = "students"
	GroupConfigsResource = "group-configs"
	UsersResource        = "users"
)

// Collection is a resource driven without knowing its model type.
type Collection interface {
	Name() string
	ListAny(ctx context.Context, page int) (any, error)
	RefreshAny(ctx context.Context) (any, error)
	GetAny(ctx context.Context, id string) (any, error)
	CreateJSON(ctx context.Context, raw []byte) (any, error)
	UpdateJSON(ctx context.Context, id string, raw []byte) (any, error)
	Delete(ctx context.Context, id string) error
	Paging() Paging
	Clear()
}

// Paging describes the page a collection currently shows.
type Paging struct {
	Page       int   `json:"page" yaml:"page"`
	PageSize   int   `json:"page_size" yaml:"page_size"`
	Total      int64 `json:"total" yaml:"total"`
	TotalPages int   `json:"total_pages" yaml:"total_pages"`
}

// Console groups every admin resource behind one client.
type Console struct {
	Tutors       *Resource[Tutor]
	Students     *Resource[Student]
	GroupConfigs *Resource[GroupConfig]
	Users        *Resource[User]

	byName map[string]Collection
}

// NewConsole creates all resources with shared options.
func NewConsole(c *client.Client, opts ...Option) *Console {
	con := &Console{
		Tutors:       NewResource[Tutor](c, TutorsResource, opts...),
		Students:     NewResource[Student](c, StudentsResource, opts...),
		GroupConfigs: NewResource[GroupConfig](c, GroupConfigsResource, opts...),
		Users:        NewResource[User](c, UsersResource, opts...),
	}
	con.byName = map[string]Collection{
		TutorsResource:       con.Tutors,
		StudentsResource:     con.Students,
		GroupConfigsResource: con.GroupConfigs,
		UsersResource:        con.Users,
	}
	return con
}

// Lookup returns the named resource.
func (c *Console) Lookup(name string) (Collection, error) {
	coll, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q (want one of %v)", name, c.Names())
	}
	return coll, nil
}

// Names lists the resource names in order.
func (c *Console) Names() []string {
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clear drops every resource's cached pages.
func (c *Console) Clear() {
	for _, coll := range c.byName {
		coll.Clear()
	}
}
