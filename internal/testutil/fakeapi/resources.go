package fakeapi

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Collection names served under /api/v1.
const (
	Tutors       = "tutors"
	Students     = "students"
	GroupConfigs = "group-configs"
	Users        = "users"
)

const maxPageSize = 100

type record = map[string]any

// collection is an ordered in-memory table of JSON records.
type collection struct {
	name     string
	unique   string
	required []string

	mu    sync.Mutex
	order []string
	rows  map[string]record
}

func newCollections() map[string]*collection {
	return map[string]*collection{
		Tutors:       {name: Tutors, unique: "email", required: []string{"name", "email"}},
		Students:     {name: Students, unique: "email", required: []string{"name", "email"}},
		GroupConfigs: {name: GroupConfigs, unique: "name", required: []string{"name"}},
		Users:        {name: Users, unique: "username", required: []string{"username"}},
	}
}

// seedCollections inserts n generated records into every collection.
func (s *Server) seedCollections(n int) {
	f := s.faker
	for i := 0; i < n; i++ {
		s.collections[Tutors].insert(record{
			"name":        f.Name(),
			"email":       fmt.Sprintf("tutor%d.%s", i, f.Email()),
			"phone":       f.Phone(),
			"subjects":    []string{f.RandomString([]string{"math", "physics", "chemistry", "english", "history"})},
			"hourly_rate": strconv.FormatFloat(f.Price(20, 120), 'f', 2, 64),
			"active":      f.Bool(),
		})
		s.collections[Students].insert(record{
			"name":           f.Name(),
			"email":          fmt.Sprintf("student%d.%s", i, f.Email()),
			"grade":          strconv.Itoa(f.Number(1, 12)),
			"guardian_phone": f.Phone(),
			"active":         true,
		})
		s.collections[GroupConfigs].insert(record{
			"name":         fmt.Sprintf("%s group %d", f.RandomString([]string{"Morning", "Evening", "Weekend"}), i),
			"max_students": f.Number(4, 30),
			"monthly_fee":  strconv.FormatFloat(f.Price(50, 400), 'f', 2, 64),
			"schedule":     f.RandomString([]string{"MON,WED", "TUE,THU", "SAT"}),
		})
		s.collections[Users].insert(record{
			"username":     fmt.Sprintf("%s%d", f.Username(), i),
			"display_name": f.Name(),
			"email":        f.Email(),
			"role":         f.RandomString([]string{"admin", "manager", "viewer"}),
			"active":       true,
		})
	}
}

func (c *collection) insert(r record) record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(r)
}

func (c *collection) insertLocked(r record) record {
	if c.rows == nil {
		c.rows = make(map[string]record)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	id := uuid.NewString()
	r["id"] = id
	r["created_at"] = now
	r["updated_at"] = now
	c.rows[id] = r
	c.order = append(c.order, id)
	return r
}

// Len reports the number of records in the named collection.
func (s *Server) Len(name string) int {
	coll := s.collections[name]
	coll.mu.Lock()
	defer coll.mu.Unlock()
	return len(coll.order)
}

func (c *collection) list(ctx *gin.Context) {
	page, err := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		fail(ctx, http.StatusBadRequest, "ERR_VALIDATION", "page must be a positive integer",
			fieldError{Field: "page", Message: "min=1"})
		return
	}
	size, err := strconv.Atoi(ctx.DefaultQuery("page_size", "20"))
	if err != nil || size < 1 || size > maxPageSize {
		fail(ctx, http.StatusBadRequest, "ERR_VALIDATION", "page_size must be between 1 and 100",
			fieldError{Field: "page_size", Message: "min=1,max=100"})
		return
	}

	c.mu.Lock()
	total := len(c.order)
	start := min((page-1)*size, total)
	end := min(start+size, total)
	items := make([]record, 0, end-start)
	for _, id := range c.order[start:end] {
		items = append(items, c.rows[id])
	}
	c.mu.Unlock()

	successWithMeta(ctx, items, int64(total), page, size)
}

func (c *collection) get(ctx *gin.Context) {
	c.mu.Lock()
	r, ok := c.rows[ctx.Param("id")]
	c.mu.Unlock()
	if !ok {
		fail(ctx, http.StatusNotFound, "ERR_NOT_FOUND", c.name+" record not found")
		return
	}
	success(ctx, r)
}

func (c *collection) create() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body record
		if err := ctx.ShouldBindJSON(&body); err != nil {
			fail(ctx, http.StatusBadRequest, "ERR_VALIDATION", "request body must be a JSON object")
			return
		}
		if details := c.validate(body); len(details) > 0 {
			fail(ctx, http.StatusBadRequest, "ERR_VALIDATION", "validation failed", details...)
			return
		}
		delete(body, "id")

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conflicts("", body) {
			fail(ctx, http.StatusConflict, "ERR_ALREADY_EXISTS", fmt.Sprintf("%s %v already exists", c.unique, body[c.unique]))
			return
		}
		created(ctx, c.insertLocked(body))
	}
}

func (c *collection) update() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body record
		if err := ctx.ShouldBindJSON(&body); err != nil {
			fail(ctx, http.StatusBadRequest, "ERR_VALIDATION", "request body must be a JSON object")
			return
		}
		id := ctx.Param("id")

		c.mu.Lock()
		defer c.mu.Unlock()
		existing, ok := c.rows[id]
		if !ok {
			fail(ctx, http.StatusNotFound, "ERR_NOT_FOUND", c.name+" record not found")
			return
		}
		if c.conflicts(id, body) {
			fail(ctx, http.StatusConflict, "ERR_ALREADY_EXISTS", fmt.Sprintf("%s %v already exists", c.unique, body[c.unique]))
			return
		}

		merged := make(record, len(existing)+len(body))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range body {
			if k == "id" || k == "created_at" {
				continue
			}
			merged[k] = v
		}
		merged["updated_at"] = time.Now().UTC().Format(time.RFC3339)
		if details := c.validate(merged); len(details) > 0 {
			fail(ctx, http.StatusBadRequest, "ERR_VALIDATION", "validation failed", details...)
			return
		}
		c.rows[id] = merged
		success(ctx, merged)
	}
}

func (c *collection) remove(ctx *gin.Context) {
	id := ctx.Param("id")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[id]; !ok {
		fail(ctx, http.StatusNotFound, "ERR_NOT_FOUND", c.name+" record not found")
		return
	}
	delete(c.rows, id)
	c.order = slices.DeleteFunc(c.order, func(v string) bool { return v == id })
	ctx.Status(http.StatusNoContent)
}

func (c *collection) validate(r record) []fieldError {
	var details []fieldError
	for _, field := range c.required {
		if v, ok := r[field].(string); !ok || v == "" {
			details = append(details, fieldError{Field: field, Message: field + " is required"})
		}
	}
	return details
}

// conflicts reports whether another record already holds body's unique value. Caller holds c.mu.
func (c *collection) conflicts(selfID string, body record) bool {
	value, ok := body[c.unique]
	if !ok {
		return false
	}
	for id, r := range c.rows {
		if id != selfID && r[c.unique] == value {
			return true
		}
	}
	return false
}
