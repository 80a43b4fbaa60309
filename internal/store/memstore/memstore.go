// Package memstore is an in-memory store.Store for tests and local runs.
// A single mutex guards all state; InTx holds it for the whole callback and
// restores a snapshot when the callback fails, so transactions are atomic
// and serialized.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/tenantkit/internal/database"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/store"
)

// DefaultPermissions mirrors the catalog seeded by the initial migration.
var DefaultPermissions = []models.Permission{
	{ID: 1, Codename: "can_change_tenant_info", Name: "Can change tenant information"},
	{ID: 2, Codename: "can_invite_users", Name: "Can invite users to the tenant"},
	{ID: 3, Codename: "view_role", Name: "Can view role"},
	{ID: 4, Codename: "add_role", Name: "Can add role"},
	{ID: 5, Codename: "change_role", Name: "Can change role"},
	{ID: 6, Codename: "view_user_roles", Name: "Can view user roles"},
	{ID: 7, Codename: "change_user_roles", Name: "Can change user roles"},
}

type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
}

func New() *Store {
	st := newState()
	st.permissions = append(st.permissions, DefaultPermissions...)
	return &Store{st: st, failures: map[string]error{}}
}

// FailOn makes every later call of op return err until cleared with a nil
// err. Op names are "<repo>.<method>", e.g. "roles.assign".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) Users() store.Users             { return &users{h: s.handle(false)} }
func (s *Store) Tenants() store.Tenants         { return &tenants{h: s.handle(false)} }
func (s *Store) Invitations() store.Invitations { return &invitations{h: s.handle(false)} }
func (s *Store) Permissions() store.Permissions { return &permissions{h: s.handle(false)} }
func (s *Store) AuditLogs() store.AuditLogs     { return &auditLogs{h: s.handle(false)} }
func (s *Store) Roles(schema string) store.Roles {
	return &roles{h: s.handle(false), schema: strings.ToLower(schema)}
}

// Ping honours FailOn("store.ping", ...) so readiness failures can be staged.
func (s *Store) Ping(context.Context) error {
	return s.handle(false).do("store.ping", func(*state) error { return nil })
}

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	if err := fn(&tx{h: s.handle(true)}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) handle(locked bool) handle {
	return handle{s: s, locked: locked}
}

// handle runs repository operations against the store, taking the lock
// unless the caller is already inside InTx.
type handle struct {
	s      *Store
	locked bool
}

func (h handle) do(op string, fn func(st *state) error) error {
	if !h.locked {
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
	}
	if err, ok := h.s.failures[op]; ok {
		return err
	}
	return fn(h.s.st)
}

type tx struct {
	h handle
}

func (t *tx) Users() store.Users             { return &users{h: t.h} }
func (t *tx) Tenants() store.Tenants         { return &tenants{h: t.h} }
func (t *tx) Invitations() store.Invitations { return &invitations{h: t.h} }
func (t *tx) Permissions() store.Permissions { return &permissions{h: t.h} }
func (t *tx) AuditLogs() store.AuditLogs     { return &auditLogs{h: t.h} }
func (t *tx) Roles(schema string) store.Roles {
	return &roles{h: t.h, schema: strings.ToLower(schema)}
}

func (t *tx) ProvisionSchema(_ context.Context, schema string) error {
	if err := database.ValidateSchemaName(schema); err != nil {
		return err
	}
	return t.h.do("schema.provision", func(st *state) error {
		if _, ok := st.schemas[schema]; ok {
			return fmt.Errorf("provision schema %s: already exists", schema)
		}
		st.schemas[schema] = newSchemaState()
		return nil
	})
}

type state struct {
	users       map[uuid.UUID]models.User
	memberships map[uuid.UUID]map[uuid.UUID]bool
	tenants     map[uuid.UUID]models.Tenant
	tenantOrder []uuid.UUID
	invitations []models.Invitation
	permissions []models.Permission
	audit       []models.AuditLog
	schemas     map[string]*schemaState
	nextID      int64
}

type schemaState struct {
	roles     map[int64]models.Role
	rolePerms map[int64]map[int64]bool
	userRoles map[uuid.UUID]map[int64]bool
	userPerms map[uuid.UUID]map[int64]bool
}

func newState() *state {
	return &state{
		users:       map[uuid.UUID]models.User{},
		memberships: map[uuid.UUID]map[uuid.UUID]bool{},
		tenants:     map[uuid.UUID]models.Tenant{},
		schemas:     map[string]*schemaState{},
	}
}

func newSchemaState() *schemaState {
	return &schemaState{
		roles:     map[int64]models.Role{},
		rolePerms: map[int64]map[int64]bool{},
		userRoles: map[uuid.UUID]map[int64]bool{},
		userPerms: map[uuid.UUID]map[int64]bool{},
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.memberships {
		c.memberships[k] = cloneSet(v)
	}
	for k, v := range st.tenants {
		c.tenants[k] = v
	}
	c.tenantOrder = append(c.tenantOrder, st.tenantOrder...)
	c.invitations = append(c.invitations, st.invitations...)
	c.permissions = append(c.permissions, st.permissions...)
	c.audit = append(c.audit, st.audit...)
	for name, sc := range st.schemas {
		cs := newSchemaState()
		for k, v := range sc.roles {
			cs.roles[k] = v
		}
		for k, v := range sc.rolePerms {
			cs.rolePerms[k] = cloneSet(v)
		}
		for k, v := range sc.userRoles {
			cs.userRoles[k] = cloneSet(v)
		}
		for k, v := range sc.userPerms {
			cs.userPerms[k] = cloneSet(v)
		}
		c.schemas[name] = cs
	}
	c.nextID = st.nextID
	return c
}

func cloneSet[K comparable](m map[K]bool) map[K]bool {
	c := make(map[K]bool, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func sortedKeys(m map[int64]bool) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func now() time.Time {
	return time.Now().UTC()
}
