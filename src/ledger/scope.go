package ledger

import (
	"fmt"

	"github.com/attestnetworks/factum/src/common"
)

// Scope is the (tenant, project) pair that isolates a hash chain and its vote
// space. All sequence numbers, hashes, and checkpoints are relative to a
// scope; two scopes never share state or block each other's writers.
type Scope struct {
	TenantID string `json:"tenant_id"`
	Project  string `json:"project"`
}

// NewScope creates a Scope.
func NewScope(tenantID, project string) Scope {
	return Scope{TenantID: tenantID, Project: project}
}

// Key returns the canonical string form of the scope, used as a map and
// database key. Tenant IDs and project names are validated upstream and do
// not contain the separator.
func (s Scope) Key() string {
	return fmt.Sprintf("%s/%s", s.TenantID, s.Project)
}

// ID returns a compact 32-bit identifier for the scope, used as a cache key.
func (s Scope) ID() uint32 {
	return common.Hash32([]byte(s.Key()))
}

// IsZero reports whether the scope is unset.
func (s Scope) IsZero() bool {
	return s.TenantID == "" && s.Project == ""
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return s.Key()
}
