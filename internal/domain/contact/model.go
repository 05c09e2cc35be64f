package contact

import (
	"github.com/mpi/mpi/internal/platform/temporal"
)

// Kind classifies a contact point chain.
type Kind string

const (
	KindPhone Kind = "phone"
	KindEmail Kind = "email"
)

// Use scopes a contact point or address within its kind.
type Use string

const (
	UseHome   Use = "home"
	UseWork   Use = "work"
	UseMobile Use = "mobile"
)

// KnownKind reports whether k is a supported contact point kind.
func KnownKind(k Kind) bool { return k == KindPhone || k == KindEmail }

// KnownUse reports whether u is a supported use code.
func KnownUse(u Use) bool { return u == UseHome || u == UseWork || u == UseMobile }

// ContactPoint is one time-sliced version of a phone number or email
// address. Each (kind, use) pair versions independently.
type ContactPoint struct {
	temporal.VersionMeta
	Kind  Kind   `db:"kind" json:"kind"`
	Use   Use    `db:"use" json:"use"`
	Value string `db:"value" json:"value"`
}

func (p *ContactPoint) Meta() *temporal.VersionMeta { return &p.VersionMeta }
func (p *ContactPoint) SubKey() string              { return string(p.Kind) + "/" + string(p.Use) }

// Address is one time-sliced version of a postal address. One chain
// per use.
type Address struct {
	temporal.VersionMeta
	Use        Use    `db:"use" json:"use"`
	Line1      string `db:"line1" json:"line1"`
	Line2      string `db:"line2" json:"line2,omitempty"`
	City       string `db:"city" json:"city"`
	State      string `db:"state" json:"state,omitempty"`
	PostalCode string `db:"postal_code" json:"postal_code"`
	Country    string `db:"country" json:"country"`
}

func (a *Address) Meta() *temporal.VersionMeta { return &a.VersionMeta }
func (a *Address) SubKey() string              { return string(a.Use) }
